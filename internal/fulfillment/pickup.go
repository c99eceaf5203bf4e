package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"
)

const qrTokenBytes = 24

// PickupService issues and redeems in-person handoff codes.
type PickupService struct {
	*core
	completer *completer
}

func (s *PickupService) create(ctx context.Context, q Queries, order Order, entry QueueEntry, at time.Time) (PickupRecord, error) {
	if existing, err := q.GetPickupByOrder(ctx, order.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNoRows) {
		return PickupRecord{}, err
	}

	qr, err := issueUnique(ctx, func() (string, error) { return s.codes.Token(qrTokenBytes) }, q.PickupTokenTaken)
	if err != nil {
		return PickupRecord{}, err
	}
	code, err := issueUnique(ctx, s.codes.PickupCode, q.PickupTokenTaken)
	if err != nil {
		return PickupRecord{}, err
	}
	record := PickupRecord{
		ID:               newID(),
		OrderID:          order.ID,
		QueueEntryID:     entry.ID,
		QRToken:          qr,
		VerificationCode: code,
		CreatedAt:        at,
	}
	if err := q.InsertPickup(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return PickupRecord{}, Conflict(ErrCodeSpaceExhausted, "Could not issue a unique pickup code")
		}
		return PickupRecord{}, err
	}
	return record, nil
}

// Redeem consumes a QR token or numeric code at the staff member's counter.
// Redemption is single use; payment completes the order separately.
func (s *PickupService) Redeem(ctx context.Context, staff Actor, token string, counterID string) (PickupRecord, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return PickupRecord{}, ValidationError("Pickup code is required")
	}
	var out PickupRecord
	err := s.run(ctx, func(q Queries, batch *eventBatch) error {
		record, err := q.FindPickupByToken(ctx, token)
		if err != nil {
			return lookupErr(err, "Pickup")
		}
		entry, err := q.GetQueueEntry(ctx, record.QueueEntryID)
		if err != nil {
			return lookupErr(err, "Queue entry")
		}
		if entry.ProviderID != staff.ProviderID {
			return NotFound("Pickup")
		}
		if err := s.requireOccupant(ctx, q, staff, counterID); err != nil {
			return err
		}
		if record.ScannedBy != nil {
			return AlreadyRedeemed()
		}
		if entry.Status != QueueReady {
			return NotReady()
		}

		ok, err := q.MarkPickupScanned(ctx, record.ID, staff.ID, counterID, batch.now)
		if err != nil {
			return err
		}
		if !ok {
			return AlreadyRedeemed()
		}
		record.ScannedBy = strPtr(staff.ID)
		record.ScannedCounterID = strPtr(counterID)
		record.ScannedAt = timePtr(batch.now)

		batch.add(EventPickupRedeemed, entry.ProviderID, record.OrderID, entry.ProviderID, map[string]any{
			"pickupId":  record.ID,
			"counterId": counterID,
			"staffId":   staff.ID,
		})
		out = record
		return nil
	})
	return out, err
}

// CompletePayment records the external payment confirmation and completes
// the order in the same transaction.
func (s *PickupService) CompletePayment(ctx context.Context, staff Actor, pickupID string, method string, reference string) (Payment, error) {
	var out Payment
	err := s.run(ctx, func(q Queries, batch *eventBatch) error {
		record, err := s.scopedPickup(ctx, q, staff, pickupID)
		if err != nil {
			return err
		}
		if record.PaymentCompleted {
			return AlreadyPaid()
		}
		if record.ScannedBy == nil {
			return PickupNotRedeemed()
		}
		out, err = s.completer.complete(ctx, q, batch, PickupFulfillment{Record: record}, Settlement{
			Method:    method,
			Reference: reference,
			Actor:     staff.ID,
		})
		return err
	})
	return out, err
}

func (s *PickupService) Get(ctx context.Context, staff Actor, pickupID string) (PickupRecord, error) {
	var out PickupRecord
	err := s.run(ctx, func(q Queries, _ *eventBatch) error {
		record, err := s.scopedPickup(ctx, q, staff, pickupID)
		if err != nil {
			return err
		}
		out = record
		return nil
	})
	return out, err
}

func (s *PickupService) scopedPickup(ctx context.Context, q Queries, staff Actor, pickupID string) (PickupRecord, error) {
	record, err := q.GetPickup(ctx, pickupID)
	if err != nil {
		return PickupRecord{}, lookupErr(err, "Pickup")
	}
	order, err := q.GetOrder(ctx, record.OrderID)
	if err != nil {
		return PickupRecord{}, lookupErr(err, "Order")
	}
	if order.ProviderID != staff.ProviderID {
		return PickupRecord{}, NotFound("Pickup")
	}
	return record, nil
}
