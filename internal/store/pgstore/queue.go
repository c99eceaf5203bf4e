package pgstore

import (
	"context"
	"errors"
	"time"

	"pharmacy-order-services/internal/fulfillment"
)

const queueColumns = `id, order_id, provider_id, status, claimed_by, counter_id, issued_code, created_at,
	claimed_at, preparing_at, ready_at, completed_at, cancelled_at`

func scanQueueEntry(row scanner) (fulfillment.QueueEntry, error) {
	var (
		e      fulfillment.QueueEntry
		status string
	)
	err := row.Scan(&e.ID, &e.OrderID, &e.ProviderID, &status, &e.ClaimedBy, &e.CounterID, &e.IssuedCode, &e.CreatedAt,
		&e.ClaimedAt, &e.PreparingAt, &e.ReadyAt, &e.CompletedAt, &e.CancelledAt)
	e.Status = fulfillment.QueueStatus(status)
	return e, err
}

func (q *queries) InsertQueueEntry(ctx context.Context, e fulfillment.QueueEntry) error {
	_, err := q.tx.Exec(ctx, `
		insert into queue_entries (id, order_id, provider_id, status, issued_code, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.OrderID, e.ProviderID, string(e.Status), e.IssuedCode, e.CreatedAt)
	return mapErr(err)
}

func (q *queries) GetQueueEntry(ctx context.Context, id string) (fulfillment.QueueEntry, error) {
	e, err := scanQueueEntry(q.tx.QueryRow(ctx, `select `+queueColumns+` from queue_entries where id = $1`, id))
	return e, mapErr(err)
}

func (q *queries) GetQueueEntryByOrder(ctx context.Context, orderID string) (fulfillment.QueueEntry, error) {
	e, err := scanQueueEntry(q.tx.QueryRow(ctx, `select `+queueColumns+` from queue_entries where order_id = $1`, orderID))
	return e, mapErr(err)
}

func (q *queries) GetQueueEntryByCode(ctx context.Context, providerID string, code string) (fulfillment.QueueEntry, error) {
	e, err := scanQueueEntry(q.tx.QueryRow(ctx, `
		select `+queueColumns+` from queue_entries where provider_id = $1 and issued_code = $2
	`, providerID, code))
	return e, mapErr(err)
}

func (q *queries) ListQueueEntries(ctx context.Context, providerID string, status fulfillment.QueueStatus) ([]fulfillment.QueueEntry, error) {
	rows, err := q.tx.Query(ctx, `
		select `+queueColumns+`
		from queue_entries
		where provider_id = $1 and status = $2
		order by created_at, id
	`, providerID, string(status))
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanQueueEntry)
}

func (q *queries) QueueCodeTaken(ctx context.Context, code string) (bool, error) {
	return q.exists(ctx, `select exists(select 1 from queue_entries where issued_code = $1)`, code)
}

func (q *queries) ClaimQueueEntry(ctx context.Context, id string, staffID string, counterID string, at time.Time) (bool, error) {
	return q.exec(ctx, `
		update queue_entries
		set status = 'CLAIMED', claimed_by = $2, counter_id = $3, claimed_at = $4
		where id = $1 and status = 'PENDING'
	`, id, staffID, counterID, at)
}

func (q *queries) AdvanceQueueEntry(ctx context.Context, id string, staffID string, from fulfillment.QueueStatus, to fulfillment.QueueStatus, at time.Time) (bool, error) {
	return q.exec(ctx, `
		update queue_entries
		set status = $4::text,
		    preparing_at = case when $4::text = 'PREPARING' then $5 else preparing_at end,
		    ready_at = case when $4::text = 'READY' then $5 else ready_at end
		where id = $1 and claimed_by = $2 and status = $3
	`, id, staffID, string(from), string(to), at)
}

func (q *queries) CompleteQueueEntry(ctx context.Context, id string, at time.Time) (bool, error) {
	return q.exec(ctx, `
		update queue_entries
		set status = 'COMPLETED', claimed_by = null, completed_at = $2
		where id = $1 and status = 'READY'
	`, id, at)
}

func (q *queries) CancelQueueEntry(ctx context.Context, id string, at time.Time) (bool, error) {
	return q.exec(ctx, `
		update queue_entries
		set status = 'CANCELLED', claimed_by = null, cancelled_at = $2
		where id = $1 and status not in ('COMPLETED', 'CANCELLED')
	`, id, at)
}

func (q *queries) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) ([]fulfillment.QueueEntry, error) {
	rows, err := q.tx.Query(ctx, `
		update queue_entries
		set status = 'PENDING', claimed_by = null, counter_id = null, claimed_at = null
		where status = 'CLAIMED' and claimed_at < $1
		returning `+queueColumns, claimedBefore)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanQueueEntry)
}

const counterColumns = `id, provider_id, name, current_staff, session_started_at`

func scanCounter(row scanner) (fulfillment.Counter, error) {
	var c fulfillment.Counter
	err := row.Scan(&c.ID, &c.ProviderID, &c.Name, &c.CurrentStaff, &c.SessionStartedAt)
	return c, err
}

func (q *queries) InsertCounter(ctx context.Context, c fulfillment.Counter) error {
	_, err := q.tx.Exec(ctx, `
		insert into counters (`+counterColumns+`) values ($1, $2, $3, $4, $5)
	`, c.ID, c.ProviderID, c.Name, c.CurrentStaff, c.SessionStartedAt)
	return mapErr(err)
}

func (q *queries) GetCounter(ctx context.Context, id string) (fulfillment.Counter, error) {
	c, err := scanCounter(q.tx.QueryRow(ctx, `select `+counterColumns+` from counters where id = $1`, id))
	return c, mapErr(err)
}

func (q *queries) LockCounter(ctx context.Context, id string) (fulfillment.Counter, error) {
	c, err := scanCounter(q.tx.QueryRow(ctx, `select `+counterColumns+` from counters where id = $1 for share`, id))
	return c, mapErr(err)
}

func (q *queries) CounterForStaff(ctx context.Context, staffID string) (fulfillment.Counter, error) {
	c, err := scanCounter(q.tx.QueryRow(ctx, `select `+counterColumns+` from counters where current_staff = $1`, staffID))
	return c, mapErr(err)
}

// BindCounter seats staffID at a free counter. The partial unique index on
// current_staff backs the cross-counter check under concurrency.
func (q *queries) BindCounter(ctx context.Context, id string, staffID string, at time.Time) (bool, error) {
	elsewhere, err := q.exists(ctx, `
		select exists(select 1 from counters where current_staff = $1 and id <> $2)
	`, staffID, id)
	if err != nil {
		return false, err
	}
	if elsewhere {
		return false, fulfillment.ErrDuplicate
	}

	bound, err := q.exec(ctx, `
		update counters
		set current_staff = $2, session_started_at = $3
		where id = $1 and current_staff is null
	`, id, staffID, at)
	if err != nil || bound {
		return bound, err
	}

	var current *string
	err = q.tx.QueryRow(ctx, `select current_staff from counters where id = $1`, id).Scan(&current)
	if err = mapErr(err); err != nil {
		if errors.Is(err, fulfillment.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return current != nil && *current == staffID, nil
}

func (q *queries) ReleaseCounter(ctx context.Context, id string, staffID string) (bool, error) {
	return q.exec(ctx, `
		update counters
		set current_staff = null, session_started_at = null
		where id = $1 and current_staff = $2
	`, id, staffID)
}
