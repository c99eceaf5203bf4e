package pgstore

import (
	"context"
	"errors"
	"fmt"

	"pharmacy-order-services/internal/fulfillment"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Store runs each unit of work in a READ COMMITTED transaction. Races are
// settled by row locks and single-statement conditional updates.
type Store struct {
	pool *pgxpool.Pool
}

var _ fulfillment.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(q fulfillment.Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&queries{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapErr(err))
	}
	return nil
}

type queries struct {
	tx pgx.Tx
}

var _ fulfillment.Queries = (*queries)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fulfillment.ErrNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", fulfillment.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// exec runs a conditional statement and reports whether exactly one row matched.
func (q *queries) exec(ctx context.Context, sql string, args ...any) (bool, error) {
	cmd, err := q.tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (q *queries) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var found bool
	if err := q.tx.QueryRow(ctx, sql, args...).Scan(&found); err != nil {
		return false, mapErr(err)
	}
	return found, nil
}

func collect[T any](rows pgx.Rows, scan func(scanner) (T, error)) ([]T, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		return scan(row)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	if out == nil {
		out = make([]T, 0)
	}
	return out, nil
}
