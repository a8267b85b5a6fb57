package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTimeout bounds a unit of work when the caller configured none.
const DefaultTimeout = 10 * time.Second

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
// The unit is bounded by timeout; any failure rolls the whole unit back and is classified.
func WithTx(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, fn func(context.Context, pgx.Tx) error) error {
	return WithTxLevel(ctx, pool, timeout, pgx.RepeatableRead, fn)
}

// WithTxLevel is WithTx with an explicit isolation level. Row-locking writers use
// ReadCommitted so that SELECT ... FOR UPDATE waits for and then sees the latest version.
func WithTxLevel(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, level pgx.TxIsoLevel, fn func(context.Context, pgx.Tx) error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: level})
	if err != nil {
		return Classify(fmt.Errorf("platform/db: begin tx: %w", err))
	}

	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}
