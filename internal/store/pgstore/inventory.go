package pgstore

import (
	"context"
	"errors"
	"time"

	"pharmacy-order-services/internal/fulfillment"
)

const providerColumns = `id, name, currency, latitude, longitude, fallback_delivery_fee, is_active`

func (q *queries) InsertProvider(ctx context.Context, p fulfillment.Provider) error {
	_, err := q.tx.Exec(ctx, `
		insert into providers (`+providerColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Name, p.Currency, p.Latitude, p.Longitude, p.FallbackDeliveryFee, p.IsActive)
	return mapErr(err)
}

func (q *queries) GetProvider(ctx context.Context, id string) (fulfillment.Provider, error) {
	var p fulfillment.Provider
	err := q.tx.QueryRow(ctx, `select `+providerColumns+` from providers where id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Currency, &p.Latitude, &p.Longitude, &p.FallbackDeliveryFee, &p.IsActive)
	return p, mapErr(err)
}

const lotColumns = `id, provider_id, medication_id, batch, quantity, reorder_threshold, selling_price, expires_at, updated_at`

func scanLot(row scanner) (fulfillment.Lot, error) {
	var l fulfillment.Lot
	err := row.Scan(&l.ID, &l.ProviderID, &l.MedicationID, &l.Batch, &l.Quantity, &l.ReorderThreshold, &l.SellingPrice, &l.ExpiresAt, &l.UpdatedAt)
	return l, err
}

func (q *queries) InsertLot(ctx context.Context, l fulfillment.Lot) error {
	_, err := q.tx.Exec(ctx, `
		insert into inventory_lots (`+lotColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, l.ID, l.ProviderID, l.MedicationID, l.Batch, l.Quantity, l.ReorderThreshold, l.SellingPrice, l.ExpiresAt, l.UpdatedAt)
	return mapErr(err)
}

func (q *queries) GetLot(ctx context.Context, id string) (fulfillment.Lot, error) {
	l, err := scanLot(q.tx.QueryRow(ctx, `select `+lotColumns+` from inventory_lots where id = $1`, id))
	return l, mapErr(err)
}

func (q *queries) LockLot(ctx context.Context, id string) (fulfillment.Lot, error) {
	l, err := scanLot(q.tx.QueryRow(ctx, `select `+lotColumns+` from inventory_lots where id = $1 for update`, id))
	return l, mapErr(err)
}

func (q *queries) AdjustLotQuantity(ctx context.Context, id string, delta int64, at time.Time) (int64, int64, bool, error) {
	var previous, current int64
	err := q.tx.QueryRow(ctx, `
		update inventory_lots
		set quantity = quantity + $2, updated_at = $3
		where id = $1 and quantity + $2 >= 0
		returning quantity - $2, quantity
	`, id, delta, at).Scan(&previous, &current)
	if err == nil {
		return previous, current, true, nil
	}
	if err = mapErr(err); !errors.Is(err, fulfillment.ErrNoRows) {
		return 0, 0, false, err
	}

	if err := q.tx.QueryRow(ctx, `select quantity from inventory_lots where id = $1`, id).Scan(&current); err != nil {
		return 0, 0, false, mapErr(err)
	}
	return current, current, false, nil
}

func (q *queries) InsertMovement(ctx context.Context, m fulfillment.StockMovement) error {
	_, err := q.tx.Exec(ctx, `
		insert into stock_movements (id, lot_id, delta, previous_quantity, new_quantity, reason, actor, order_id, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.LotID, m.Delta, m.PreviousQuantity, m.NewQuantity, string(m.Reason), m.Actor, m.OrderID, m.CreatedAt)
	return mapErr(err)
}

func (q *queries) ListMovements(ctx context.Context, lotID string) ([]fulfillment.StockMovement, error) {
	rows, err := q.tx.Query(ctx, `
		select id, lot_id, delta, previous_quantity, new_quantity, reason, actor, order_id, created_at
		from stock_movements
		where lot_id = $1
		order by seq
	`, lotID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, func(row scanner) (fulfillment.StockMovement, error) {
		var m fulfillment.StockMovement
		var reason string
		err := row.Scan(&m.ID, &m.LotID, &m.Delta, &m.PreviousQuantity, &m.NewQuantity, &reason, &m.Actor, &m.OrderID, &m.CreatedAt)
		m.Reason = fulfillment.MovementReason(reason)
		return m, err
	})
}

func (q *queries) HeldQuantity(ctx context.Context, lotID string, excludeOrderID string, draftSince time.Time) (int64, error) {
	var held int64
	err := q.tx.QueryRow(ctx, `
		select coalesce(sum(l.quantity), 0)::bigint
		from order_lines l
		join orders o on o.id = l.order_id
		where l.lot_id = $1
		  and l.order_id <> $2
		  and (o.status in ('PENDING', 'CONFIRMED', 'PREPARING', 'READY')
		       or (o.status = 'DRAFT' and o.updated_at >= $3))
	`, lotID, excludeOrderID, draftSince).Scan(&held)
	return held, mapErr(err)
}

func (q *queries) InsertPayment(ctx context.Context, p fulfillment.Payment) error {
	_, err := q.tx.Exec(ctx, `
		insert into payments (id, order_id, method, reference, amount, currency, paid_by, paid_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.OrderID, p.Method, p.Reference, p.Amount, p.Currency, p.PaidBy, p.PaidAt)
	return mapErr(err)
}

func (q *queries) ListPayments(ctx context.Context, orderID string) ([]fulfillment.Payment, error) {
	rows, err := q.tx.Query(ctx, `
		select id, order_id, method, reference, amount, currency, paid_by, paid_at
		from payments
		where order_id = $1
		order by paid_at
	`, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, func(row scanner) (fulfillment.Payment, error) {
		var p fulfillment.Payment
		err := row.Scan(&p.ID, &p.OrderID, &p.Method, &p.Reference, &p.Amount, &p.Currency, &p.PaidBy, &p.PaidAt)
		return p, err
	})
}
