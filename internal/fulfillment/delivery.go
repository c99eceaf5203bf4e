package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDeliveryPaymentMethod = "CASH_ON_DELIVERY"
	maxConfirmationAttempts      = 5
)

// DeliveryService runs courier handoff from assignment to confirmation.
type DeliveryService struct {
	*core
	completer *completer
}

// Tracking is the public view of a delivery.
type Tracking struct {
	ProviderID     string           `json:"-"`
	TrackingNumber string           `json:"trackingNumber"`
	Status         DeliveryStatus   `json:"status"`
	OrderStatus    OrderStatus      `json:"orderStatus"`
	CourierID      *string          `json:"courierId,omitempty"`
	PickedUpAt     *time.Time       `json:"pickedUpAt,omitempty"`
	DeliveredAt    *time.Time       `json:"deliveredAt,omitempty"`
	ProofPhotoURL  *string          `json:"proofPhotoUrl,omitempty"`
	Locations      []LocationSample `json:"locations"`
}

// create issues the tracking number and confirmation code. Only the bcrypt
// hash of the code is stored; the plaintext is returned once.
func (s *DeliveryService) create(ctx context.Context, q Queries, order Order, entry QueueEntry, at time.Time) (DeliveryRecord, string, error) {
	if _, err := q.GetDeliveryByOrder(ctx, order.ID); err == nil {
		return DeliveryRecord{}, "", Conflict(ErrInvalidState, "Delivery already exists for this order")
	} else if !errors.Is(err, ErrNoRows) {
		return DeliveryRecord{}, "", err
	}

	tracking, err := issueUnique(ctx, s.codes.TrackingNumber, q.TrackingNumberTaken)
	if err != nil {
		return DeliveryRecord{}, "", err
	}
	code, err := s.codes.ConfirmationCode()
	if err != nil {
		return DeliveryRecord{}, "", err
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return DeliveryRecord{}, "", err
	}

	record := DeliveryRecord{
		ID:               newID(),
		OrderID:          order.ID,
		QueueEntryID:     entry.ID,
		TrackingNumber:   tracking,
		ConfirmationHash: hash,
		Status:           DeliveryPendingAssignment,
		CreatedAt:        at,
	}
	if err := q.InsertDelivery(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return DeliveryRecord{}, "", Conflict(ErrCodeSpaceExhausted, "Could not issue a unique tracking number")
		}
		return DeliveryRecord{}, "", err
	}
	return record, code, nil
}

// AssignCourier binds or rebinds a courier while the parcel is undelivered.
func (s *DeliveryService) AssignCourier(ctx context.Context, staff Actor, deliveryID string, courierID string) (DeliveryRecord, error) {
	courierID = strings.TrimSpace(courierID)
	if courierID == "" {
		return DeliveryRecord{}, ValidationError("Courier is required")
	}
	var out DeliveryRecord
	err := s.run(ctx, func(q Queries, batch *eventBatch) error {
		record, order, err := s.scopedDelivery(ctx, q, deliveryID)
		if err != nil {
			return err
		}
		if order.ProviderID != staff.ProviderID {
			return NotFound("Delivery")
		}
		ok, err := q.AssignCourier(ctx, record.ID, courierID, batch.now)
		if err != nil {
			return err
		}
		if !ok {
			return InvalidState("Delivery is already closed")
		}

		out, err = q.GetDelivery(ctx, record.ID)
		if err != nil {
			return err
		}
		batch.add(EventCourierAssigned, order.ProviderID, order.ID, courierID, map[string]any{
			"deliveryId":     record.ID,
			"trackingNumber": record.TrackingNumber,
			"patientId":      order.PatientID,
		})
		return nil
	})
	return out, err
}

// MarkInTransit records that the assigned courier collected the parcel.
func (s *DeliveryService) MarkInTransit(ctx context.Context, courier Actor, deliveryID string) (DeliveryRecord, error) {
	var out DeliveryRecord
	err := s.run(ctx, func(q Queries, batch *eventBatch) error {
		record, order, err := s.courierDelivery(ctx, q, courier, deliveryID)
		if err != nil {
			return err
		}
		ok, err := q.MarkInTransit(ctx, record.ID, courier.ID, batch.now)
		if err != nil {
			return err
		}
		if !ok {
			return InvalidState("Delivery must be assigned before pickup")
		}
		record.Status = DeliveryInTransit
		record.PickedUpAt = timePtr(batch.now)
		batch.add(EventDeliveryInTransit, order.ProviderID, order.ID, order.PatientID, map[string]any{
			"deliveryId":     record.ID,
			"trackingNumber": record.TrackingNumber,
		})
		out = record
		return nil
	})
	return out, err
}

// AppendLocation adds a tracking sample. Samples are never rewritten.
func (s *DeliveryService) AppendLocation(ctx context.Context, courier Actor, deliveryID string, lat, lng float64) (LocationSample, error) {
	if !validCoordinate(lat, lng) {
		return LocationSample{}, ValidationError("Latitude or longitude is out of range")
	}
	var out LocationSample
	err := s.run(ctx, func(q Queries, batch *eventBatch) error {
		record, order, err := s.courierDelivery(ctx, q, courier, deliveryID)
		if err != nil {
			return err
		}
		if record.Status != DeliveryAssigned && record.Status != DeliveryInTransit {
			return InvalidState("Delivery is not active")
		}
		sample, err := q.AppendLocation(ctx, LocationSample{
			DeliveryID: record.ID,
			Latitude:   lat,
			Longitude:  lng,
			RecordedAt: batch.now,
		})
		if err != nil {
			return err
		}
		batch.add(EventDeliveryLocation, order.ProviderID, order.ID, order.PatientID, map[string]any{
			"trackingNumber": record.TrackingNumber,
			"seq":            sample.Seq,
			"latitude":       sample.Latitude,
			"longitude":      sample.Longitude,
		})
		out = sample
		return nil
	})
	return out, err
}

// Confirm checks the patient's code and completes the order. A wrong code
// changes nothing except the failed-attempt count, and after
// maxConfirmationAttempts misses the delivery refuses codes until the patient
// is issued a new one. A delivery can be confirmed once; repeating the right
// code afterwards returns AlreadyRedeemed without side effects.
func (s *DeliveryService) Confirm(ctx context.Context, courier Actor, deliveryID string, code string, settlement Settlement) (Payment, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Payment{}, ValidationError("Confirmation code is required")
	}
	if strings.TrimSpace(settlement.Method) == "" {
		settlement.Method = defaultDeliveryPaymentMethod
	}
	settlement.Actor = courier.ID

	var (
		out    Payment
		missed int
	)
	err := s.run(ctx, func(q Queries, batch *eventBatch) error {
		record, order, err := s.courierDelivery(ctx, q, courier, deliveryID)
		if err != nil {
			return err
		}
		if record, err = q.LockDelivery(ctx, record.ID); err != nil {
			return lookupErr(err, "Delivery")
		}
		switch record.Status {
		case DeliveryDelivered:
			if !s.hasher.Matches(record.ConfirmationHash, code) {
				return CodeMismatch()
			}
			return AlreadyRedeemed()
		case DeliveryInTransit:
		default:
			return InvalidState("Delivery is not in transit")
		}
		if record.FailedAttempts >= maxConfirmationAttempts {
			return ConfirmationLocked()
		}
		if !s.hasher.Matches(record.ConfirmationHash, code) {
			// The miss is committed so the limit holds across requests.
			missed, err = q.RecordFailedConfirmation(ctx, record.ID)
			return err
		}

		out, err = s.completer.complete(ctx, q, batch, DeliveryFulfillment{Record: record}, settlement)
		if err != nil {
			return err
		}
		batch.add(EventDeliveryDelivered, order.ProviderID, order.ID, order.PatientID, map[string]any{
			"deliveryId":     record.ID,
			"trackingNumber": record.TrackingNumber,
		})
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	if missed > 0 {
		s.logger.Warn("delivery confirmation code mismatch",
			zap.String("deliveryId", deliveryID),
			zap.String("courierId", courier.ID),
			zap.Int("failedAttempts", missed),
		)
		mismatch := CodeMismatch()
		mismatch.Details = map[string]any{"attemptsLeft": max(maxConfirmationAttempts-missed, 0)}
		return Payment{}, mismatch
	}
	return out, nil
}

// DeliveryCode is a freshly issued confirmation code for the patient.
type DeliveryCode struct {
	DeliveryID       string `json:"deliveryId"`
	TrackingNumber   string `json:"trackingNumber"`
	ConfirmationCode string `json:"confirmationCode"`
}

// ReissueCode replaces the confirmation code of the patient's open courier
// order. The previous code stops matching and the failed-attempt count is
// cleared.
func (s *DeliveryService) ReissueCode(ctx context.Context, patientID string, orderID string) (DeliveryCode, error) {
	var out DeliveryCode
	err := s.run(ctx, func(q Queries, batch *eventBatch) error {
		order, err := q.GetOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, "Order")
		}
		if order.PatientID != patientID {
			return NotFound("Order")
		}
		record, err := q.GetDeliveryByOrder(ctx, order.ID)
		if err != nil {
			return lookupErr(err, "Delivery")
		}
		if record, err = q.LockDelivery(ctx, record.ID); err != nil {
			return lookupErr(err, "Delivery")
		}
		if record.Status == DeliveryDelivered || record.Status == DeliveryCancelled {
			return InvalidState("Delivery is already closed")
		}

		code, err := s.codes.ConfirmationCode()
		if err != nil {
			return err
		}
		hash, err := s.hasher.Hash(code)
		if err != nil {
			return err
		}
		ok, err := q.ReplaceConfirmationHash(ctx, record.ID, hash)
		if err != nil {
			return err
		}
		if !ok {
			return InvalidState("Delivery is already closed")
		}

		out = DeliveryCode{DeliveryID: record.ID, TrackingNumber: record.TrackingNumber, ConfirmationCode: code}
		batch.add(EventDeliveryCodeIssued, order.ProviderID, order.ID, order.PatientID, map[string]any{
			"deliveryId":       record.ID,
			"trackingNumber":   record.TrackingNumber,
			"confirmationCode": code,
		})
		return nil
	})
	return out, err
}

// AttachProofPhoto stores the uploaded proof-of-delivery location.
func (s *DeliveryService) AttachProofPhoto(ctx context.Context, courier Actor, deliveryID string, url string) (DeliveryRecord, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return DeliveryRecord{}, ValidationError("Proof photo is required")
	}
	var out DeliveryRecord
	err := s.run(ctx, func(q Queries, _ *eventBatch) error {
		record, _, err := s.courierDelivery(ctx, q, courier, deliveryID)
		if err != nil {
			return err
		}
		if record.Status == DeliveryCancelled {
			return InvalidState("Delivery was cancelled")
		}
		if err := q.SetProofPhoto(ctx, record.ID, url); err != nil {
			return err
		}
		record.ProofPhotoURL = &url
		out = record
		return nil
	})
	return out, err
}

// Get returns the delivery to staff of its provider or to its courier.
func (s *DeliveryService) Get(ctx context.Context, actor Actor, deliveryID string) (DeliveryRecord, error) {
	var out DeliveryRecord
	err := s.run(ctx, func(q Queries, _ *eventBatch) error {
		record, order, err := s.scopedDelivery(ctx, q, deliveryID)
		if err != nil {
			return err
		}
		staffView := actor.ProviderID != "" && order.ProviderID == actor.ProviderID
		courierView := record.CourierID != nil && *record.CourierID == actor.ID
		if !staffView && !courierView {
			return NotFound("Delivery")
		}
		out = record
		return nil
	})
	return out, err
}

// Track returns the public tracking view for a tracking number.
func (s *DeliveryService) Track(ctx context.Context, trackingNumber string) (Tracking, error) {
	trackingNumber = strings.ToUpper(strings.TrimSpace(trackingNumber))
	if trackingNumber == "" {
		return Tracking{}, ValidationError("Tracking number is required")
	}
	var out Tracking
	err := s.run(ctx, func(q Queries, _ *eventBatch) error {
		record, err := q.GetDeliveryByTracking(ctx, trackingNumber)
		if err != nil {
			return lookupErr(err, "Delivery")
		}
		order, err := q.GetOrder(ctx, record.OrderID)
		if err != nil {
			return lookupErr(err, "Order")
		}
		samples, err := q.ListLocations(ctx, record.ID)
		if err != nil {
			return err
		}
		out = Tracking{
			ProviderID:     order.ProviderID,
			TrackingNumber: record.TrackingNumber,
			Status:         record.Status,
			OrderStatus:    order.Status,
			CourierID:      record.CourierID,
			PickedUpAt:     record.PickedUpAt,
			DeliveredAt:    record.DeliveredAt,
			ProofPhotoURL:  record.ProofPhotoURL,
			Locations:      samples,
		}
		return nil
	})
	return out, err
}

func (s *DeliveryService) scopedDelivery(ctx context.Context, q Queries, deliveryID string) (DeliveryRecord, Order, error) {
	record, err := q.GetDelivery(ctx, deliveryID)
	if err != nil {
		return DeliveryRecord{}, Order{}, lookupErr(err, "Delivery")
	}
	order, err := q.GetOrder(ctx, record.OrderID)
	if err != nil {
		return DeliveryRecord{}, Order{}, lookupErr(err, "Order")
	}
	return record, order, nil
}

func (s *DeliveryService) courierDelivery(ctx context.Context, q Queries, courier Actor, deliveryID string) (DeliveryRecord, Order, error) {
	record, order, err := s.scopedDelivery(ctx, q, deliveryID)
	if err != nil {
		return DeliveryRecord{}, Order{}, err
	}
	if record.CourierID == nil || *record.CourierID != courier.ID {
		return DeliveryRecord{}, Order{}, NotOwner()
	}
	return record, order, nil
}
