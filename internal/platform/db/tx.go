package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConflict reports a write transaction that lost a serialization race
// even after a retry.
var ErrConflict = errors.New("platform/db: concurrent update")

const pgSerializationFailure = "40001"

// WithTx executes fn within a read-write transaction at RepeatableRead. A
// serialization failure reruns fn once in a fresh transaction, so fn must
// not keep state between attempts beyond plain assignments.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return retryOnConflict(func() error {
		return run(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
	})
}

// WithReadTx executes fn within a read-only RepeatableRead transaction so
// every query observes the same snapshot.
func WithReadTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return run(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func retryOnConflict(attempt func() error) error {
	err := attempt()
	if !isSerializationFailure(err) {
		return err
	}
	err = attempt()
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure
}

func run(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
