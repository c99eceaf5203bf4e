package fulfillment

import (
	"context"
	"time"
)

// Store runs fn inside one atomic unit. Either every write made through q is
// committed or none is observable.
type Store interface {
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// Queries is the row-level contract shared by the Postgres and in-memory
// stores. Methods returning a bool perform a conditional update and report
// whether the row matched the condition at commit time.
type Queries interface {
	ProviderQueries
	LotQueries
	OrderQueries
	QueueQueries
	CounterQueries
	PickupQueries
	DeliveryQueries
	PaymentQueries
}

type ProviderQueries interface {
	InsertProvider(ctx context.Context, p Provider) error
	GetProvider(ctx context.Context, id string) (Provider, error)
}

type LotQueries interface {
	InsertLot(ctx context.Context, lot Lot) error
	GetLot(ctx context.Context, id string) (Lot, error)
	LockLot(ctx context.Context, id string) (Lot, error)
	// AdjustLotQuantity applies delta only if the resulting quantity is >= 0.
	AdjustLotQuantity(ctx context.Context, id string, delta int64, at time.Time) (previous int64, current int64, ok bool, err error)
	InsertMovement(ctx context.Context, m StockMovement) error
	ListMovements(ctx context.Context, lotID string) ([]StockMovement, error)
	// HeldQuantity sums the lot quantity on live orders other than excludeOrderID.
	// Draft carts only count when touched at or after draftSince.
	HeldQuantity(ctx context.Context, lotID string, excludeOrderID string, draftSince time.Time) (int64, error)
}

type OrderQueries interface {
	InsertOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	LockOrder(ctx context.Context, id string) (Order, error)
	FindDraftOrder(ctx context.Context, patientID string) (Order, error)
	UpdateOrder(ctx context.Context, o Order) error
	TransitionOrder(ctx context.Context, id string, from []OrderStatus, to OrderStatus, at time.Time) (bool, error)
	ListLines(ctx context.Context, orderID string) ([]LineItem, error)
	InsertLine(ctx context.Context, l LineItem) error
	UpdateLine(ctx context.Context, l LineItem) error
	DeleteLine(ctx context.Context, orderID string, lineID string) error
	DeleteLines(ctx context.Context, orderID string) error
}

type QueueQueries interface {
	InsertQueueEntry(ctx context.Context, e QueueEntry) error
	GetQueueEntry(ctx context.Context, id string) (QueueEntry, error)
	GetQueueEntryByOrder(ctx context.Context, orderID string) (QueueEntry, error)
	GetQueueEntryByCode(ctx context.Context, providerID string, code string) (QueueEntry, error)
	ListQueueEntries(ctx context.Context, providerID string, status QueueStatus) ([]QueueEntry, error)
	QueueCodeTaken(ctx context.Context, code string) (bool, error)
	ClaimQueueEntry(ctx context.Context, id string, staffID string, counterID string, at time.Time) (bool, error)
	AdvanceQueueEntry(ctx context.Context, id string, staffID string, from QueueStatus, to QueueStatus, at time.Time) (bool, error)
	CompleteQueueEntry(ctx context.Context, id string, at time.Time) (bool, error)
	CancelQueueEntry(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) ([]QueueEntry, error)
}

type CounterQueries interface {
	InsertCounter(ctx context.Context, c Counter) error
	GetCounter(ctx context.Context, id string) (Counter, error)
	// LockCounter reads the counter under a shared lock held until commit.
	LockCounter(ctx context.Context, id string) (Counter, error)
	CounterForStaff(ctx context.Context, staffID string) (Counter, error)
	// BindCounter succeeds when the counter is free or already held by staffID.
	// Returns ErrDuplicate when staffID occupies another counter.
	BindCounter(ctx context.Context, id string, staffID string, at time.Time) (bool, error)
	ReleaseCounter(ctx context.Context, id string, staffID string) (bool, error)
}

type PickupQueries interface {
	InsertPickup(ctx context.Context, p PickupRecord) error
	GetPickup(ctx context.Context, id string) (PickupRecord, error)
	GetPickupByOrder(ctx context.Context, orderID string) (PickupRecord, error)
	// FindPickupByToken matches either the QR token or the numeric code exactly.
	FindPickupByToken(ctx context.Context, token string) (PickupRecord, error)
	PickupTokenTaken(ctx context.Context, token string) (bool, error)
	MarkPickupScanned(ctx context.Context, id string, staffID string, counterID string, at time.Time) (bool, error)
	MarkPickupPaid(ctx context.Context, id string, at time.Time) (bool, error)
}

type DeliveryQueries interface {
	InsertDelivery(ctx context.Context, d DeliveryRecord) error
	GetDelivery(ctx context.Context, id string) (DeliveryRecord, error)
	LockDelivery(ctx context.Context, id string) (DeliveryRecord, error)
	GetDeliveryByOrder(ctx context.Context, orderID string) (DeliveryRecord, error)
	GetDeliveryByTracking(ctx context.Context, trackingNumber string) (DeliveryRecord, error)
	TrackingNumberTaken(ctx context.Context, trackingNumber string) (bool, error)
	AssignCourier(ctx context.Context, id string, courierID string, at time.Time) (bool, error)
	MarkInTransit(ctx context.Context, id string, courierID string, at time.Time) (bool, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	CancelDelivery(ctx context.Context, id string) (bool, error)
	SetProofPhoto(ctx context.Context, id string, url string) error
	// RecordFailedConfirmation bumps the wrong-code counter and returns the new count.
	RecordFailedConfirmation(ctx context.Context, id string) (int, error)
	// ReplaceConfirmationHash swaps the code of an open delivery and clears
	// the wrong-code counter.
	ReplaceConfirmationHash(ctx context.Context, id string, hash string) (bool, error)
	AppendLocation(ctx context.Context, s LocationSample) (LocationSample, error)
	ListLocations(ctx context.Context, deliveryID string) ([]LocationSample, error)
}

type PaymentQueries interface {
	InsertPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, orderID string) ([]Payment, error)
}
