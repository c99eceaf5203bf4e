package fulfillment

import "time"

type OrderStatus string

const (
	OrderDraft     OrderStatus = "DRAFT"
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderPreparing OrderStatus = "PREPARING"
	OrderReady     OrderStatus = "READY"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

type DeliveryMethod string

const (
	MethodNone    DeliveryMethod = ""
	MethodPickup  DeliveryMethod = "PICKUP"
	MethodCourier DeliveryMethod = "COURIER"
)

func (m DeliveryMethod) Valid() bool {
	return m == MethodPickup || m == MethodCourier
}

type QueueStatus string

const (
	QueuePending   QueueStatus = "PENDING"
	QueueClaimed   QueueStatus = "CLAIMED"
	QueuePreparing QueueStatus = "PREPARING"
	QueueReady     QueueStatus = "READY"
	QueueCompleted QueueStatus = "COMPLETED"
	QueueCancelled QueueStatus = "CANCELLED"
)

func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueCancelled
}

// Held reports whether the entry carries an active claim.
func (s QueueStatus) Held() bool {
	return s == QueueClaimed || s == QueuePreparing || s == QueueReady
}

type DeliveryStatus string

const (
	DeliveryPendingAssignment DeliveryStatus = "PENDING_ASSIGNMENT"
	DeliveryAssigned          DeliveryStatus = "ASSIGNED"
	DeliveryInTransit         DeliveryStatus = "IN_TRANSIT"
	DeliveryDelivered         DeliveryStatus = "DELIVERED"
	DeliveryCancelled         DeliveryStatus = "CANCELLED"
)

type MovementReason string

const (
	ReasonReceived    MovementReason = "RECEIVED"
	ReasonSale        MovementReason = "SALE"
	ReasonReplenish   MovementReason = "REPLENISH"
	ReasonAdjustment  MovementReason = "ADJUSTMENT"
	ReasonReturn      MovementReason = "RETURN"
	ReasonWriteOff    MovementReason = "WRITE_OFF"
	ReasonExpiredDrop MovementReason = "EXPIRED"
)

type Provider struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Currency            string   `json:"currency"`
	Latitude            *float64 `json:"latitude,omitempty"`
	Longitude           *float64 `json:"longitude,omitempty"`
	FallbackDeliveryFee int64    `json:"fallbackDeliveryFee"`
	IsActive            bool     `json:"isActive"`
}

type Address struct {
	Line      string   `json:"line"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type Order struct {
	ID               string         `json:"id"`
	PatientID        string         `json:"patientId"`
	ProviderID       string         `json:"providerId"`
	Status           OrderStatus    `json:"status"`
	DeliveryMethod   DeliveryMethod `json:"deliveryMethod"`
	DeliveryAddress  *Address       `json:"deliveryAddress,omitempty"`
	DeliveryDistance *float64       `json:"deliveryDistanceKm,omitempty"`
	DeliveryFee      int64          `json:"deliveryFee"`
	Subtotal         int64          `json:"subtotal"`
	Total            int64          `json:"total"`
	Currency         string         `json:"currency"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	PlacedAt         *time.Time     `json:"placedAt,omitempty"`
	ConfirmedAt      *time.Time     `json:"confirmedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	CancelledAt      *time.Time     `json:"cancelledAt,omitempty"`
}

type LineItem struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"orderId"`
	MedicationID string    `json:"medicationId"`
	LotID        string    `json:"lotId"`
	Quantity     int64     `json:"quantity"`
	UnitPrice    int64     `json:"unitPrice"`
	LineTotal    int64     `json:"lineTotal"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Lot struct {
	ID               string     `json:"id"`
	ProviderID       string     `json:"providerId"`
	MedicationID     string     `json:"medicationId"`
	Batch            string     `json:"batch"`
	Quantity         int64      `json:"quantity"`
	ReorderThreshold int64      `json:"reorderThreshold"`
	SellingPrice     int64      `json:"sellingPrice"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// StockMovement is an immutable ledger row; rows are never updated or deleted.
type StockMovement struct {
	ID               string         `json:"id"`
	LotID            string         `json:"lotId"`
	Delta            int64          `json:"delta"`
	PreviousQuantity int64          `json:"previousQuantity"`
	NewQuantity      int64          `json:"newQuantity"`
	Reason           MovementReason `json:"reason"`
	Actor            string         `json:"actor"`
	OrderID          *string        `json:"orderId,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

type QueueEntry struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"orderId"`
	ProviderID  string      `json:"providerId"`
	Status      QueueStatus `json:"status"`
	ClaimedBy   *string     `json:"claimedBy,omitempty"`
	CounterID   *string     `json:"counterId,omitempty"`
	IssuedCode  string      `json:"issuedCode"`
	CreatedAt   time.Time   `json:"createdAt"`
	ClaimedAt   *time.Time  `json:"claimedAt,omitempty"`
	PreparingAt *time.Time  `json:"preparingAt,omitempty"`
	ReadyAt     *time.Time  `json:"readyAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	CancelledAt *time.Time  `json:"cancelledAt,omitempty"`
}

type Counter struct {
	ID               string     `json:"id"`
	ProviderID       string     `json:"providerId"`
	Name             string     `json:"name"`
	CurrentStaff     *string    `json:"currentStaff,omitempty"`
	SessionStartedAt *time.Time `json:"sessionStartedAt,omitempty"`
}

type PickupRecord struct {
	ID               string     `json:"id"`
	OrderID          string     `json:"orderId"`
	QueueEntryID     string     `json:"queueEntryId"`
	QRToken          string     `json:"qrToken"`
	VerificationCode string     `json:"verificationCode"`
	ScannedBy        *string    `json:"scannedBy,omitempty"`
	ScannedCounterID *string    `json:"scannedCounterId,omitempty"`
	ScannedAt        *time.Time `json:"scannedAt,omitempty"`
	PaymentCompleted bool       `json:"paymentCompleted"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type DeliveryRecord struct {
	ID               string         `json:"id"`
	OrderID          string         `json:"orderId"`
	QueueEntryID     string         `json:"queueEntryId"`
	TrackingNumber   string         `json:"trackingNumber"`
	ConfirmationHash string         `json:"-"`
	FailedAttempts   int            `json:"failedAttempts"`
	CourierID        *string        `json:"courierId,omitempty"`
	Status           DeliveryStatus `json:"status"`
	ProofPhotoURL    *string        `json:"proofPhotoUrl,omitempty"`
	AssignedAt       *time.Time     `json:"assignedAt,omitempty"`
	PickedUpAt       *time.Time     `json:"pickedUpAt,omitempty"`
	DeliveredAt      *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

type LocationSample struct {
	DeliveryID string    `json:"deliveryId"`
	Seq        int64     `json:"seq"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recordedAt"`
}

type Payment struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Method    string    `json:"method"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	PaidBy    string    `json:"paidBy"`
	PaidAt    time.Time `json:"paidAt"`
}

// Actor is the authorized caller of a core operation.
type Actor struct {
	ID         string
	ProviderID string
}
