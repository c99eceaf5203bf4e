package pgstore

import (
	"context"
	"time"

	"pharmacy-order-services/internal/fulfillment"
)

const pickupColumns = `id, order_id, queue_entry_id, qr_token, verification_code, scanned_by, scanned_counter_id,
	scanned_at, payment_completed, paid_at, created_at`

func scanPickup(row scanner) (fulfillment.PickupRecord, error) {
	var p fulfillment.PickupRecord
	err := row.Scan(&p.ID, &p.OrderID, &p.QueueEntryID, &p.QRToken, &p.VerificationCode, &p.ScannedBy, &p.ScannedCounterID,
		&p.ScannedAt, &p.PaymentCompleted, &p.PaidAt, &p.CreatedAt)
	return p, err
}

func (q *queries) InsertPickup(ctx context.Context, p fulfillment.PickupRecord) error {
	_, err := q.tx.Exec(ctx, `
		insert into pickup_records (id, order_id, queue_entry_id, qr_token, verification_code, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.OrderID, p.QueueEntryID, p.QRToken, p.VerificationCode, p.CreatedAt)
	return mapErr(err)
}

func (q *queries) GetPickup(ctx context.Context, id string) (fulfillment.PickupRecord, error) {
	p, err := scanPickup(q.tx.QueryRow(ctx, `select `+pickupColumns+` from pickup_records where id = $1`, id))
	return p, mapErr(err)
}

func (q *queries) GetPickupByOrder(ctx context.Context, orderID string) (fulfillment.PickupRecord, error) {
	p, err := scanPickup(q.tx.QueryRow(ctx, `select `+pickupColumns+` from pickup_records where order_id = $1`, orderID))
	return p, mapErr(err)
}

func (q *queries) FindPickupByToken(ctx context.Context, token string) (fulfillment.PickupRecord, error) {
	p, err := scanPickup(q.tx.QueryRow(ctx, `
		select `+pickupColumns+` from pickup_records where qr_token = $1 or verification_code = $1
	`, token))
	return p, mapErr(err)
}

func (q *queries) PickupTokenTaken(ctx context.Context, token string) (bool, error) {
	return q.exists(ctx, `
		select exists(select 1 from pickup_records where qr_token = $1 or verification_code = $1)
	`, token)
}

func (q *queries) MarkPickupScanned(ctx context.Context, id string, staffID string, counterID string, at time.Time) (bool, error) {
	return q.exec(ctx, `
		update pickup_records
		set scanned_by = $2, scanned_counter_id = $3, scanned_at = $4
		where id = $1 and scanned_by is null
	`, id, staffID, counterID, at)
}

func (q *queries) MarkPickupPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	return q.exec(ctx, `
		update pickup_records
		set payment_completed = true, paid_at = $2
		where id = $1 and payment_completed = false and scanned_by is not null
	`, id, at)
}

const deliveryColumns = `id, order_id, queue_entry_id, tracking_number, confirmation_hash, failed_attempts, courier_id,
	status, proof_photo_url, assigned_at, picked_up_at, delivered_at, created_at`

func scanDelivery(row scanner) (fulfillment.DeliveryRecord, error) {
	var (
		d      fulfillment.DeliveryRecord
		status string
	)
	err := row.Scan(&d.ID, &d.OrderID, &d.QueueEntryID, &d.TrackingNumber, &d.ConfirmationHash, &d.FailedAttempts, &d.CourierID,
		&status, &d.ProofPhotoURL, &d.AssignedAt, &d.PickedUpAt, &d.DeliveredAt, &d.CreatedAt)
	d.Status = fulfillment.DeliveryStatus(status)
	return d, err
}

func (q *queries) InsertDelivery(ctx context.Context, d fulfillment.DeliveryRecord) error {
	_, err := q.tx.Exec(ctx, `
		insert into delivery_records (id, order_id, queue_entry_id, tracking_number, confirmation_hash, status, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, d.ID, d.OrderID, d.QueueEntryID, d.TrackingNumber, d.ConfirmationHash, string(d.Status), d.CreatedAt)
	return mapErr(err)
}

func (q *queries) GetDelivery(ctx context.Context, id string) (fulfillment.DeliveryRecord, error) {
	d, err := scanDelivery(q.tx.QueryRow(ctx, `select `+deliveryColumns+` from delivery_records where id = $1`, id))
	return d, mapErr(err)
}

func (q *queries) LockDelivery(ctx context.Context, id string) (fulfillment.DeliveryRecord, error) {
	d, err := scanDelivery(q.tx.QueryRow(ctx, `select `+deliveryColumns+` from delivery_records where id = $1 for update`, id))
	return d, mapErr(err)
}

func (q *queries) GetDeliveryByOrder(ctx context.Context, orderID string) (fulfillment.DeliveryRecord, error) {
	d, err := scanDelivery(q.tx.QueryRow(ctx, `select `+deliveryColumns+` from delivery_records where order_id = $1`, orderID))
	return d, mapErr(err)
}

func (q *queries) GetDeliveryByTracking(ctx context.Context, trackingNumber string) (fulfillment.DeliveryRecord, error) {
	d, err := scanDelivery(q.tx.QueryRow(ctx, `
		select `+deliveryColumns+` from delivery_records where tracking_number = $1
	`, trackingNumber))
	return d, mapErr(err)
}

func (q *queries) TrackingNumberTaken(ctx context.Context, trackingNumber string) (bool, error) {
	return q.exists(ctx, `select exists(select 1 from delivery_records where tracking_number = $1)`, trackingNumber)
}

func (q *queries) AssignCourier(ctx context.Context, id string, courierID string, at time.Time) (bool, error) {
	return q.exec(ctx, `
		update delivery_records
		set courier_id = $2,
		    assigned_at = $3,
		    status = case when status = 'PENDING_ASSIGNMENT' then 'ASSIGNED' else status end
		where id = $1 and status in ('PENDING_ASSIGNMENT', 'ASSIGNED', 'IN_TRANSIT')
	`, id, courierID, at)
}

func (q *queries) MarkInTransit(ctx context.Context, id string, courierID string, at time.Time) (bool, error) {
	return q.exec(ctx, `
		update delivery_records
		set status = 'IN_TRANSIT', picked_up_at = $3
		where id = $1 and courier_id = $2 and status = 'ASSIGNED'
	`, id, courierID, at)
}

func (q *queries) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	return q.exec(ctx, `
		update delivery_records
		set status = 'DELIVERED', delivered_at = $2
		where id = $1 and status = 'IN_TRANSIT'
	`, id, at)
}

func (q *queries) CancelDelivery(ctx context.Context, id string) (bool, error) {
	return q.exec(ctx, `
		update delivery_records
		set status = 'CANCELLED'
		where id = $1 and status not in ('DELIVERED', 'CANCELLED')
	`, id)
}

func (q *queries) SetProofPhoto(ctx context.Context, id string, url string) error {
	ok, err := q.exec(ctx, `update delivery_records set proof_photo_url = $2 where id = $1`, id, url)
	if err != nil {
		return err
	}
	if !ok {
		return fulfillment.ErrNoRows
	}
	return nil
}

func (q *queries) RecordFailedConfirmation(ctx context.Context, id string) (int, error) {
	var attempts int
	err := q.tx.QueryRow(ctx, `
		update delivery_records
		set failed_attempts = failed_attempts + 1
		where id = $1
		returning failed_attempts
	`, id).Scan(&attempts)
	return attempts, mapErr(err)
}

func (q *queries) ReplaceConfirmationHash(ctx context.Context, id string, hash string) (bool, error) {
	return q.exec(ctx, `
		update delivery_records
		set confirmation_hash = $2, failed_attempts = 0
		where id = $1 and status not in ('DELIVERED', 'CANCELLED')
	`, id, hash)
}

// AppendLocation locks the delivery row so concurrent samples get distinct
// sequence numbers.
func (q *queries) AppendLocation(ctx context.Context, s fulfillment.LocationSample) (fulfillment.LocationSample, error) {
	var locked string
	if err := q.tx.QueryRow(ctx, `select id from delivery_records where id = $1 for update`, s.DeliveryID).Scan(&locked); err != nil {
		return fulfillment.LocationSample{}, mapErr(err)
	}
	err := q.tx.QueryRow(ctx, `
		insert into delivery_locations (delivery_id, seq, latitude, longitude, recorded_at)
		select $1, coalesce(max(seq), 0) + 1, $2, $3, $4
		from delivery_locations
		where delivery_id = $1
		returning seq
	`, s.DeliveryID, s.Latitude, s.Longitude, s.RecordedAt).Scan(&s.Seq)
	if err != nil {
		return fulfillment.LocationSample{}, mapErr(err)
	}
	return s, nil
}

func (q *queries) ListLocations(ctx context.Context, deliveryID string) ([]fulfillment.LocationSample, error) {
	rows, err := q.tx.Query(ctx, `
		select delivery_id, seq, latitude, longitude, recorded_at
		from delivery_locations
		where delivery_id = $1
		order by seq
	`, deliveryID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, func(row scanner) (fulfillment.LocationSample, error) {
		var s fulfillment.LocationSample
		err := row.Scan(&s.DeliveryID, &s.Seq, &s.Latitude, &s.Longitude, &s.RecordedAt)
		return s, err
	})
}
