package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx executes a function within a ReadCommitted transaction. Read-then-
// append sequences on the movement ledger lock product rows FOR UPDATE before
// summing; at ReadCommitted every statement takes a fresh snapshot, so a sum
// taken after the lock is granted sees the movements committed by the
// previous lock holder. Snapshot-pinning levels (RepeatableRead and up) are
// wrong here: a transaction that blocked on the row lock would resume with a
// snapshot from before the winner's commit and read stale on-hand, because
// the lock holder only locks the rows and never updates them.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
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
