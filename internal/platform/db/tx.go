package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
)

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// StockTxOptions is used for every stock mutation: repeatable read, so a
// concurrent writer on the same product row, batch or counter aborts with 40001.
var StockTxOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

// MaxTxAttempts bounds how often WithTx runs fn when Postgres reports a
// serialization failure or deadlock.
const MaxTxAttempts = 5

var retryBackoff = 10 * time.Millisecond

// WithTx runs fn inside a StockTxOptions transaction. The transaction commits
// only when fn returns nil. Errors from fn and commit go through Classify.
// A serialization failure rolls back and reruns fn in a fresh transaction, up
// to MaxTxAttempts times, so fn must not keep state between calls.
func WithTx(ctx context.Context, b Beginner, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= MaxTxAttempts; attempt++ {
		err = runTx(ctx, b, fn)
		if !errors.Is(err, ErrSerialization) || attempt == MaxTxAttempts {
			return err
		}
		wait := retryBackoff * time.Duration(attempt)
		if retryBackoff > 0 {
			wait += rand.N(retryBackoff)
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
	}
	return err
}

func runTx(ctx context.Context, b Beginner, fn func(pgx.Tx) error) error {
	tx, err := b.BeginTx(ctx, StockTxOptions)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(tx); err != nil {
		return Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", Classify(err))
	}
	committed = true
	return nil
}
