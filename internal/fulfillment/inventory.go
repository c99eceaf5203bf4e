package fulfillment

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Ledger is the only writer of lot quantities. Every change is paired with a
// stock movement in the same transaction.
type Ledger struct {
	*core
}

type StockChange struct {
	LotID    string
	Quantity int64
	Reason   MovementReason
	Actor    string
	OrderID  *string
}

// Deduct removes quantity from a lot. The check and the decrement are one
// conditional update, so concurrent deductions never drive stock negative.
func (l *Ledger) Deduct(ctx context.Context, actor Actor, change StockChange) (StockMovement, error) {
	if change.Reason == "" {
		change.Reason = ReasonAdjustment
	}
	if change.Actor == "" {
		change.Actor = actor.ID
	}
	var out StockMovement
	err := l.run(ctx, func(q Queries, batch *eventBatch) error {
		if err := l.checkLotScope(ctx, q, actor, change.LotID); err != nil {
			return err
		}
		m, err := l.deduct(ctx, q, batch, change)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// Replenish adds quantity to a lot.
func (l *Ledger) Replenish(ctx context.Context, actor Actor, change StockChange) (StockMovement, error) {
	if change.Reason == "" {
		change.Reason = ReasonReplenish
	}
	if change.Actor == "" {
		change.Actor = actor.ID
	}
	var out StockMovement
	err := l.run(ctx, func(q Queries, batch *eventBatch) error {
		if err := l.checkLotScope(ctx, q, actor, change.LotID); err != nil {
			return err
		}
		m, err := l.adjust(ctx, q, batch, change, change.Quantity)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// ReceiveLot registers a new lot and books its opening quantity.
func (l *Ledger) ReceiveLot(ctx context.Context, actor Actor, lot Lot) (Lot, error) {
	lot.MedicationID = strings.TrimSpace(lot.MedicationID)
	lot.Batch = strings.TrimSpace(lot.Batch)
	if lot.MedicationID == "" || lot.Batch == "" {
		return Lot{}, ValidationError("Medication and batch are required")
	}
	if lot.Quantity < 0 || lot.ReorderThreshold < 0 || lot.SellingPrice < 0 {
		return Lot{}, ValidationError("Quantities and prices must not be negative")
	}
	if actor.ProviderID != "" {
		lot.ProviderID = actor.ProviderID
	}
	if lot.ProviderID == "" {
		return Lot{}, ValidationError("Provider is required")
	}

	err := l.run(ctx, func(q Queries, batch *eventBatch) error {
		if _, err := q.GetProvider(ctx, lot.ProviderID); err != nil {
			return lookupErr(err, "Provider")
		}
		if lot.ID == "" {
			lot.ID = newID()
		}
		lot.UpdatedAt = batch.now
		if err := q.InsertLot(ctx, lot); err != nil {
			return err
		}
		return q.InsertMovement(ctx, StockMovement{
			ID:               newID(),
			LotID:            lot.ID,
			Delta:            lot.Quantity,
			PreviousQuantity: 0,
			NewQuantity:      lot.Quantity,
			Reason:           ReasonReceived,
			Actor:            actor.ID,
			CreatedAt:        batch.now,
		})
	})
	if err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// Movements returns the audit trail of a lot in insertion order.
func (l *Ledger) Movements(ctx context.Context, actor Actor, lotID string) ([]StockMovement, error) {
	var out []StockMovement
	err := l.run(ctx, func(q Queries, _ *eventBatch) error {
		if err := l.checkLotScope(ctx, q, actor, lotID); err != nil {
			return err
		}
		rows, err := q.ListMovements(ctx, lotID)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

func (l *Ledger) checkLotScope(ctx context.Context, q Queries, actor Actor, lotID string) error {
	lot, err := q.GetLot(ctx, lotID)
	if err != nil {
		return lookupErr(err, "Lot")
	}
	if actor.ProviderID != "" && lot.ProviderID != actor.ProviderID {
		return NotFound("Lot")
	}
	return nil
}

func (l *Ledger) deduct(ctx context.Context, q Queries, batch *eventBatch, change StockChange) (StockMovement, error) {
	return l.adjust(ctx, q, batch, change, -change.Quantity)
}

func (l *Ledger) adjust(ctx context.Context, q Queries, batch *eventBatch, change StockChange, delta int64) (StockMovement, error) {
	if change.Quantity <= 0 {
		return StockMovement{}, ValidationError("Quantity must be greater than zero")
	}

	previous, current, ok, err := q.AdjustLotQuantity(ctx, change.LotID, delta, batch.now)
	if err != nil {
		return StockMovement{}, lookupErr(err, "Lot")
	}
	if !ok {
		return StockMovement{}, InsufficientStock(change.LotID, change.Quantity, previous)
	}

	m := StockMovement{
		ID:               newID(),
		LotID:            change.LotID,
		Delta:            delta,
		PreviousQuantity: previous,
		NewQuantity:      current,
		Reason:           change.Reason,
		Actor:            change.Actor,
		OrderID:          change.OrderID,
		CreatedAt:        batch.now,
	}
	if err := q.InsertMovement(ctx, m); err != nil {
		return StockMovement{}, err
	}

	if delta < 0 {
		lot, err := q.GetLot(ctx, change.LotID)
		if err == nil && lot.Quantity <= lot.ReorderThreshold {
			batch.add(EventLowStock, lot.ProviderID, "", lot.ProviderID, map[string]any{
				"lotId":            lot.ID,
				"medicationId":     lot.MedicationID,
				"batch":            lot.Batch,
				"quantity":         lot.Quantity,
				"reorderThreshold": lot.ReorderThreshold,
			})
		} else if err != nil {
			l.logger.Warn("low stock check failed", zap.String("lotId", change.LotID), zap.Error(err))
		}
	}

	return m, nil
}
