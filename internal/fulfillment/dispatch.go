package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Dispatcher owns queue entries from enqueue to completion.
type Dispatcher struct {
	*core
	pickups    *PickupService
	deliveries *DeliveryService
}

// Enqueue creates the queue entry for a confirmed order.
func (d *Dispatcher) Enqueue(ctx context.Context, staff Actor, orderID string) (QueueEntry, error) {
	var out QueueEntry
	err := d.run(ctx, func(q Queries, batch *eventBatch) error {
		order, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, "Order")
		}
		if order.ProviderID != staff.ProviderID {
			return NotFound("Order")
		}
		if order.Status != OrderConfirmed {
			return InvalidState("Only confirmed orders can be queued")
		}
		out, err = d.enqueue(ctx, q, batch, order)
		return err
	})
	return out, err
}

func (d *Dispatcher) enqueue(ctx context.Context, q Queries, batch *eventBatch, order Order) (QueueEntry, error) {
	if _, err := q.GetQueueEntryByOrder(ctx, order.ID); err == nil {
		return QueueEntry{}, Conflict(ErrQueueEntryExists, "Order is already queued")
	} else if !errors.Is(err, ErrNoRows) {
		return QueueEntry{}, err
	}

	code, err := issueUnique(ctx, d.codes.QueueCode, q.QueueCodeTaken)
	if err != nil {
		return QueueEntry{}, err
	}
	entry := QueueEntry{
		ID:         newID(),
		OrderID:    order.ID,
		ProviderID: order.ProviderID,
		Status:     QueuePending,
		IssuedCode: code,
		CreatedAt:  batch.now,
	}
	if err := q.InsertQueueEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return QueueEntry{}, Conflict(ErrQueueEntryExists, "Order is already queued")
		}
		return QueueEntry{}, err
	}

	batch.add(EventQueueEntryCreated, order.ProviderID, order.ID, order.ProviderID, map[string]any{
		"queueEntryId":   entry.ID,
		"issuedCode":     entry.IssuedCode,
		"deliveryMethod": order.DeliveryMethod,
	})
	return entry, nil
}

// ListPending returns the provider's unclaimed entries in creation order.
// Every staff member of the provider sees the same list.
func (d *Dispatcher) ListPending(ctx context.Context, providerID string) ([]QueueEntry, error) {
	var out []QueueEntry
	err := d.run(ctx, func(q Queries, _ *eventBatch) error {
		rows, err := q.ListQueueEntries(ctx, providerID, QueuePending)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

func (d *Dispatcher) Get(ctx context.Context, staff Actor, entryID string) (QueueEntry, error) {
	var out QueueEntry
	err := d.run(ctx, func(q Queries, _ *eventBatch) error {
		entry, err := d.scopedEntry(ctx, q, staff, entryID)
		if err != nil {
			return err
		}
		out = entry
		return nil
	})
	return out, err
}

// Resolve finds an entry by the code issued at enqueue time.
func (d *Dispatcher) Resolve(ctx context.Context, staff Actor, code string) (QueueEntry, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return QueueEntry{}, ValidationError("Code is required")
	}
	var out QueueEntry
	err := d.run(ctx, func(q Queries, _ *eventBatch) error {
		entry, err := q.GetQueueEntryByCode(ctx, staff.ProviderID, code)
		if err != nil {
			return lookupErr(err, "Queue entry")
		}
		out = entry
		return nil
	})
	return out, err
}

// Claim binds a pending entry to staff at counterID. The status check and the
// binding are a single conditional update: of any number of concurrent
// claims exactly one wins.
func (d *Dispatcher) Claim(ctx context.Context, staff Actor, entryID string, counterID string) (QueueEntry, error) {
	var out QueueEntry
	err := d.run(ctx, func(q Queries, batch *eventBatch) error {
		entry, err := d.scopedEntry(ctx, q, staff, entryID)
		if err != nil {
			return err
		}
		if err := d.requireOccupant(ctx, q, staff, counterID); err != nil {
			return err
		}

		ok, err := q.ClaimQueueEntry(ctx, entry.ID, staff.ID, counterID, batch.now)
		if err != nil {
			return err
		}
		if !ok {
			current, err := q.GetQueueEntry(ctx, entry.ID)
			if err != nil {
				return err
			}
			if current.Status.Terminal() {
				return InvalidState("Queue entry is no longer active")
			}
			return AlreadyClaimed()
		}

		entry.Status = QueueClaimed
		entry.ClaimedBy = strPtr(staff.ID)
		entry.CounterID = strPtr(counterID)
		entry.ClaimedAt = timePtr(batch.now)
		batch.add(EventQueueEntryClaimed, entry.ProviderID, entry.OrderID, entry.ProviderID, map[string]any{
			"queueEntryId": entry.ID,
			"claimedBy":    staff.ID,
			"counterId":    counterID,
		})
		out = entry
		return nil
	})
	return out, err
}

// StartPreparing moves a claimed entry and its order into preparation.
func (d *Dispatcher) StartPreparing(ctx context.Context, staff Actor, entryID string) (QueueEntry, error) {
	var out QueueEntry
	err := d.run(ctx, func(q Queries, batch *eventBatch) error {
		entry, order, err := d.ownedEntry(ctx, q, staff, entryID)
		if err != nil {
			return err
		}
		ok, err := q.AdvanceQueueEntry(ctx, entry.ID, staff.ID, QueueClaimed, QueuePreparing, batch.now)
		if err != nil {
			return err
		}
		if !ok {
			return InvalidState("Queue entry must be claimed before preparation")
		}
		if ok, err = q.TransitionOrder(ctx, order.ID, []OrderStatus{OrderConfirmed}, OrderPreparing, batch.now); err != nil {
			return err
		} else if !ok {
			return InvalidState("Order is not confirmed")
		}

		entry.Status = QueuePreparing
		entry.PreparingAt = timePtr(batch.now)
		batch.add(EventQueueEntryPreparing, order.ProviderID, order.ID, order.PatientID, map[string]any{
			"queueEntryId": entry.ID,
			"issuedCode":   entry.IssuedCode,
		})
		out = entry
		return nil
	})
	return out, err
}

// MarkReady finishes preparation and opens the fulfillment matching the
// order's delivery method.
func (d *Dispatcher) MarkReady(ctx context.Context, staff Actor, entryID string) (Fulfillment, error) {
	var out Fulfillment
	err := d.run(ctx, func(q Queries, batch *eventBatch) error {
		entry, order, err := d.ownedEntry(ctx, q, staff, entryID)
		if err != nil {
			return err
		}
		ok, err := q.AdvanceQueueEntry(ctx, entry.ID, staff.ID, QueuePreparing, QueueReady, batch.now)
		if err != nil {
			return err
		}
		if !ok {
			return InvalidState("Queue entry must be in preparation")
		}
		if ok, err = q.TransitionOrder(ctx, order.ID, []OrderStatus{OrderPreparing}, OrderReady, batch.now); err != nil {
			return err
		} else if !ok {
			return InvalidState("Order is not in preparation")
		}
		entry.Status = QueueReady
		entry.ReadyAt = timePtr(batch.now)
		order.Status = OrderReady

		out, err = d.openFulfillment(ctx, q, batch, order, entry)
		return err
	})
	return out, err
}

// openFulfillment is the one place that branches on the delivery method.
func (d *Dispatcher) openFulfillment(ctx context.Context, q Queries, batch *eventBatch, order Order, entry QueueEntry) (Fulfillment, error) {
	switch order.DeliveryMethod {
	case MethodPickup:
		record, err := d.pickups.create(ctx, q, order, entry, batch.now)
		if err != nil {
			return nil, err
		}
		batch.add(EventOrderReady, order.ProviderID, order.ID, order.PatientID, map[string]any{
			"deliveryMethod":   MethodPickup,
			"pickupId":         record.ID,
			"qrToken":          record.QRToken,
			"verificationCode": record.VerificationCode,
		})
		return PickupFulfillment{Record: record}, nil
	case MethodCourier:
		record, code, err := d.deliveries.create(ctx, q, order, entry, batch.now)
		if err != nil {
			return nil, err
		}
		batch.add(EventOrderReady, order.ProviderID, order.ID, order.PatientID, map[string]any{
			"deliveryMethod":   MethodCourier,
			"deliveryId":       record.ID,
			"trackingNumber":   record.TrackingNumber,
			"confirmationCode": code,
		})
		return DeliveryFulfillment{Record: record, ConfirmationCode: code}, nil
	default:
		return nil, InvalidState("Order has no delivery method")
	}
}

// Cancel withdraws an entry and its order from any non-terminal state.
func (d *Dispatcher) Cancel(ctx context.Context, staff Actor, entryID string) (Order, error) {
	var out Order
	err := d.run(ctx, func(q Queries, batch *eventBatch) error {
		entry, err := d.scopedEntry(ctx, q, staff, entryID)
		if err != nil {
			return err
		}
		if entry.Status.Terminal() {
			return InvalidState("Queue entry is no longer active")
		}
		order, err := q.LockOrder(ctx, entry.OrderID)
		if err != nil {
			return lookupErr(err, "Order")
		}
		out, err = d.cancelOrder(ctx, q, batch, order, staff.ID)
		return err
	})
	return out, err
}

func (d *Dispatcher) cancelOrder(ctx context.Context, q Queries, batch *eventBatch, order Order, actorID string) (Order, error) {
	live := []OrderStatus{OrderPending, OrderConfirmed, OrderPreparing, OrderReady}
	ok, err := q.TransitionOrder(ctx, order.ID, live, OrderCancelled, batch.now)
	if err != nil {
		return Order{}, err
	}
	if !ok {
		return Order{}, InvalidState("Order can no longer be cancelled")
	}

	entry, err := q.GetQueueEntryByOrder(ctx, order.ID)
	switch {
	case err == nil:
		if _, err := q.CancelQueueEntry(ctx, entry.ID, batch.now); err != nil {
			return Order{}, err
		}
	case !errors.Is(err, ErrNoRows):
		return Order{}, err
	}

	if order.DeliveryMethod == MethodCourier {
		record, err := q.GetDeliveryByOrder(ctx, order.ID)
		switch {
		case err == nil:
			if _, err := q.CancelDelivery(ctx, record.ID); err != nil {
				return Order{}, err
			}
		case !errors.Is(err, ErrNoRows):
			return Order{}, err
		}
	}

	order.Status = OrderCancelled
	order.CancelledAt = timePtr(batch.now)
	order.UpdatedAt = batch.now
	batch.add(EventOrderCancelled, order.ProviderID, order.ID, order.PatientID, map[string]any{
		"cancelledBy": actorID,
	})
	return order, nil
}

// ReleaseStaleClaims returns entries claimed before now-lease and never
// started back to pending.
func (d *Dispatcher) ReleaseStaleClaims(ctx context.Context, lease time.Duration) ([]QueueEntry, error) {
	if lease <= 0 {
		return nil, nil
	}
	var out []QueueEntry
	err := d.run(ctx, func(q Queries, batch *eventBatch) error {
		released, err := q.ReleaseStaleClaims(ctx, batch.now.Add(-lease))
		if err != nil {
			return err
		}
		for _, entry := range released {
			batch.add(EventQueueEntryReleased, entry.ProviderID, entry.OrderID, entry.ProviderID, map[string]any{
				"queueEntryId": entry.ID,
				"issuedCode":   entry.IssuedCode,
			})
		}
		out = released
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		d.logger.Info("released stale queue claims", zap.Int("count", len(out)), zap.Duration("lease", lease))
	}
	return out, nil
}

// complete closes a ready entry. Only the completion transaction calls it.
func (d *Dispatcher) complete(ctx context.Context, q Queries, entryID string, at time.Time) error {
	ok, err := q.CompleteQueueEntry(ctx, entryID, at)
	if err != nil {
		return err
	}
	if !ok {
		return InvalidState("Queue entry is not ready")
	}
	return nil
}

func (d *Dispatcher) scopedEntry(ctx context.Context, q Queries, staff Actor, entryID string) (QueueEntry, error) {
	entry, err := q.GetQueueEntry(ctx, entryID)
	if err != nil {
		return QueueEntry{}, lookupErr(err, "Queue entry")
	}
	if entry.ProviderID != staff.ProviderID {
		return QueueEntry{}, NotFound("Queue entry")
	}
	return entry, nil
}

func (d *Dispatcher) ownedEntry(ctx context.Context, q Queries, staff Actor, entryID string) (QueueEntry, Order, error) {
	entry, err := d.scopedEntry(ctx, q, staff, entryID)
	if err != nil {
		return QueueEntry{}, Order{}, err
	}
	order, err := q.LockOrder(ctx, entry.OrderID)
	if err != nil {
		return QueueEntry{}, Order{}, lookupErr(err, "Order")
	}
	if entry.ClaimedBy == nil || *entry.ClaimedBy != staff.ID {
		return QueueEntry{}, Order{}, NotOwner()
	}
	return entry, order, nil
}

// requireOccupant checks that staff currently occupies counterID. The seat
// stays locked until the caller commits, so a session cannot end in between.
func (c *core) requireOccupant(ctx context.Context, q Queries, staff Actor, counterID string) error {
	if strings.TrimSpace(counterID) == "" {
		return ValidationError("Counter is required")
	}
	counter, err := q.LockCounter(ctx, counterID)
	if err != nil {
		return lookupErr(err, "Counter")
	}
	if counter.ProviderID != staff.ProviderID {
		return NotFound("Counter")
	}
	if counter.CurrentStaff == nil || *counter.CurrentStaff != staff.ID {
		return NotOccupant()
	}
	return nil
}
