package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx     *fakeTx
	opts   pgx.TxOptions
	err    error
	begins int
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.begins++
	b.opts = opts
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestWithTxCommits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, func(pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.True(t, b.tx.committed)
	require.False(t, b.tx.rolledBack)
	require.Equal(t, pgx.RepeatableRead, b.opts.IsoLevel)
}

func noBackoff(t *testing.T) {
	t.Helper()
	prev := retryBackoff
	retryBackoff = 0
	t.Cleanup(func() { retryBackoff = prev })
}

func TestWithTxRollsBackOnCallbackError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("insufficient stock")
	err := WithTx(context.Background(), b, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, b.tx.committed)
	require.True(t, b.tx.rolledBack)
	require.Equal(t, 1, b.begins, "only serialization failures rerun")
}

func TestWithTxRetriesSerializationFailure(t *testing.T) {
	noBackoff(t)
	b := &fakeBeginner{tx: &fakeTx{}}
	calls := 0
	err := WithTx(context.Background(), b, func(pgx.Tx) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, 2, b.begins)
	require.True(t, b.tx.committed)
}

func TestWithTxGivesUpAfterMaxAttempts(t *testing.T) {
	noBackoff(t)
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, func(pgx.Tx) error {
		return &pgconn.PgError{Code: "40001"}
	})
	require.ErrorIs(t, err, ErrSerialization)
	require.Equal(t, MaxTxAttempts, b.begins)
	require.False(t, b.tx.committed)
}

func TestWithTxStopsRetryingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(ctx, b, func(pgx.Tx) error {
		cancel()
		return &pgconn.PgError{Code: "40001"}
	})
	require.ErrorIs(t, err, ErrSerialization)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, b.begins)
}

func TestWithTxClassifiesCommitFailure(t *testing.T) {
	noBackoff(t)
	b := &fakeBeginner{tx: &fakeTx{commitErr: &pgconn.PgError{Code: "40P01"}}}
	err := WithTx(context.Background(), b, func(pgx.Tx) error { return nil })
	require.ErrorIs(t, err, ErrSerialization)
	require.True(t, b.tx.rolledBack)
}

func TestWithTxBeginFailure(t *testing.T) {
	boom := errors.New("pool closed")
	called := false
	err := WithTx(context.Background(), &fakeBeginner{err: boom}, func(pgx.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.False(t, called)
}
