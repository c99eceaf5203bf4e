package pgstore

import (
	"context"
	"time"

	"pharmacy-order-services/internal/fulfillment"

	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, patient_id, provider_id, status, delivery_method, delivery_address, delivery_latitude,
	delivery_longitude, delivery_distance_km, delivery_fee, subtotal, total, currency, created_at, updated_at,
	placed_at, confirmed_at, completed_at, cancelled_at`

func scanOrder(row scanner) (fulfillment.Order, error) {
	var (
		o       fulfillment.Order
		status  string
		method  string
		address pgtype.Text
		lat     *float64
		lng     *float64
	)
	err := row.Scan(&o.ID, &o.PatientID, &o.ProviderID, &status, &method, &address, &lat,
		&lng, &o.DeliveryDistance, &o.DeliveryFee, &o.Subtotal, &o.Total, &o.Currency, &o.CreatedAt, &o.UpdatedAt,
		&o.PlacedAt, &o.ConfirmedAt, &o.CompletedAt, &o.CancelledAt)
	if err != nil {
		return fulfillment.Order{}, err
	}
	o.Status = fulfillment.OrderStatus(status)
	o.DeliveryMethod = fulfillment.DeliveryMethod(method)
	if address.Valid {
		o.DeliveryAddress = &fulfillment.Address{Line: address.String, Latitude: lat, Longitude: lng}
	}
	return o, nil
}

func addressArgs(a *fulfillment.Address) (pgtype.Text, *float64, *float64) {
	if a == nil {
		return pgtype.Text{}, nil, nil
	}
	return pgtype.Text{String: a.Line, Valid: true}, a.Latitude, a.Longitude
}

// InsertOrder reports ErrDuplicate without aborting the transaction when the
// patient already has a draft.
func (q *queries) InsertOrder(ctx context.Context, o fulfillment.Order) error {
	address, lat, lng := addressArgs(o.DeliveryAddress)
	inserted, err := q.exec(ctx, `
		insert into orders (`+orderColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		on conflict (patient_id) where status = 'DRAFT' do nothing
	`, o.ID, o.PatientID, o.ProviderID, string(o.Status), string(o.DeliveryMethod), address, lat,
		lng, o.DeliveryDistance, o.DeliveryFee, o.Subtotal, o.Total, o.Currency, o.CreatedAt, o.UpdatedAt,
		o.PlacedAt, o.ConfirmedAt, o.CompletedAt, o.CancelledAt)
	if err != nil {
		return err
	}
	if !inserted {
		return fulfillment.ErrDuplicate
	}
	return nil
}

func (q *queries) GetOrder(ctx context.Context, id string) (fulfillment.Order, error) {
	o, err := scanOrder(q.tx.QueryRow(ctx, `select `+orderColumns+` from orders where id = $1`, id))
	return o, mapErr(err)
}

func (q *queries) LockOrder(ctx context.Context, id string) (fulfillment.Order, error) {
	o, err := scanOrder(q.tx.QueryRow(ctx, `select `+orderColumns+` from orders where id = $1 for update`, id))
	return o, mapErr(err)
}

func (q *queries) FindDraftOrder(ctx context.Context, patientID string) (fulfillment.Order, error) {
	o, err := scanOrder(q.tx.QueryRow(ctx, `
		select `+orderColumns+` from orders where patient_id = $1 and status = 'DRAFT'
	`, patientID))
	return o, mapErr(err)
}

func (q *queries) UpdateOrder(ctx context.Context, o fulfillment.Order) error {
	address, lat, lng := addressArgs(o.DeliveryAddress)
	ok, err := q.exec(ctx, `
		update orders
		set provider_id = $2,
		    currency = $3,
		    delivery_method = $4,
		    delivery_address = $5,
		    delivery_latitude = $6,
		    delivery_longitude = $7,
		    delivery_distance_km = $8,
		    delivery_fee = $9,
		    subtotal = $10,
		    total = $11,
		    updated_at = $12
		where id = $1
	`, o.ID, o.ProviderID, o.Currency, string(o.DeliveryMethod), address, lat, lng, o.DeliveryDistance,
		o.DeliveryFee, o.Subtotal, o.Total, o.UpdatedAt)
	if err != nil {
		return err
	}
	if !ok {
		return fulfillment.ErrNoRows
	}
	return nil
}

func (q *queries) TransitionOrder(ctx context.Context, id string, from []fulfillment.OrderStatus, to fulfillment.OrderStatus, at time.Time) (bool, error) {
	statuses := make([]string, 0, len(from))
	for _, s := range from {
		statuses = append(statuses, string(s))
	}
	return q.exec(ctx, `
		update orders
		set status = $3::text,
		    updated_at = $4,
		    placed_at = case when $3::text = 'PENDING' then $4 else placed_at end,
		    confirmed_at = case when $3::text = 'CONFIRMED' then $4 else confirmed_at end,
		    completed_at = case when $3::text = 'COMPLETED' then $4 else completed_at end,
		    cancelled_at = case when $3::text = 'CANCELLED' then $4 else cancelled_at end
		where id = $1 and status = any($2)
	`, id, statuses, string(to), at)
}

const lineColumns = `id, order_id, medication_id, lot_id, quantity, unit_price, line_total, created_at`

func (q *queries) ListLines(ctx context.Context, orderID string) ([]fulfillment.LineItem, error) {
	rows, err := q.tx.Query(ctx, `select `+lineColumns+` from order_lines where order_id = $1 order by seq`, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, func(row scanner) (fulfillment.LineItem, error) {
		var l fulfillment.LineItem
		err := row.Scan(&l.ID, &l.OrderID, &l.MedicationID, &l.LotID, &l.Quantity, &l.UnitPrice, &l.LineTotal, &l.CreatedAt)
		return l, err
	})
}

func (q *queries) InsertLine(ctx context.Context, l fulfillment.LineItem) error {
	_, err := q.tx.Exec(ctx, `
		insert into order_lines (`+lineColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, l.ID, l.OrderID, l.MedicationID, l.LotID, l.Quantity, l.UnitPrice, l.LineTotal, l.CreatedAt)
	return mapErr(err)
}

func (q *queries) UpdateLine(ctx context.Context, l fulfillment.LineItem) error {
	ok, err := q.exec(ctx, `update order_lines set quantity = $2, line_total = $3 where id = $1`, l.ID, l.Quantity, l.LineTotal)
	if err != nil {
		return err
	}
	if !ok {
		return fulfillment.ErrNoRows
	}
	return nil
}

func (q *queries) DeleteLine(ctx context.Context, orderID string, lineID string) error {
	ok, err := q.exec(ctx, `delete from order_lines where id = $1 and order_id = $2`, lineID, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return fulfillment.ErrNoRows
	}
	return nil
}

func (q *queries) DeleteLines(ctx context.Context, orderID string) error {
	_, err := q.tx.Exec(ctx, `delete from order_lines where order_id = $1`, orderID)
	return mapErr(err)
}
