package shared

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	tag   pgconn.CommandTag
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return f.tag, f.err
}

var fixedNow = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

func TestAuditLoggerRecord(t *testing.T) {
	exec := &fakeExecer{}
	logger := NewAuditLogger(exec)
	logger.now = func() time.Time { return fixedNow }

	err := logger.Record(context.Background(), AuditLog{
		Action:   "PURCHASE_CREATE",
		Entity:   "purchase",
		EntityID: "42",
		Meta:     map[string]any{"lines": 2},
	})
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)
	args := exec.calls[0].args
	require.Equal(t, "PURCHASE_CREATE", args[0])
	var meta map[string]any
	require.NoError(t, json.Unmarshal(args[3].([]byte), &meta))
	require.Equal(t, float64(2), meta["lines"])
	require.Equal(t, fixedNow, args[4])
}

func TestAuditLoggerRejectsIncompleteEntry(t *testing.T) {
	exec := &fakeExecer{}
	err := NewAuditLogger(exec).Record(context.Background(), AuditLog{Action: "INVOICE_CREATE"})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, exec.calls)

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}

func TestIdempotencyClaim(t *testing.T) {
	exec := &fakeExecer{}
	store := NewIdempotencyStore(exec)
	store.now = func() time.Time { return fixedNow }

	require.NoError(t, store.CheckAndInsert(context.Background(), "k1", "sales.invoice"))
	require.Equal(t, []any{"k1", "sales.invoice", fixedNow}, exec.calls[0].args)

	exec.err = &pgconn.PgError{Code: "23505"}
	err := store.CheckAndInsert(context.Background(), "k1", "sales.invoice")
	require.ErrorIs(t, err, ErrIdempotencyConflict)

	exec.err = errors.New("connection reset")
	err = store.CheckAndInsert(context.Background(), "k2", "sales.invoice")
	require.NotErrorIs(t, err, ErrIdempotencyConflict)

	require.ErrorIs(t, store.CheckAndInsert(context.Background(), "", "sales.invoice"), ErrValidation)
	require.ErrorIs(t, store.Delete(context.Background(), "k1", ""), ErrValidation)
}

func TestIdempotencyCleanup(t *testing.T) {
	exec := &fakeExecer{tag: pgconn.NewCommandTag("DELETE 3")}
	store := NewIdempotencyStore(exec)
	store.now = func() time.Time { return fixedNow }

	n, err := store.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Equal(t, []any{fixedNow.Add(-24 * time.Hour)}, exec.calls[0].args)

	_, err = store.Cleanup(context.Background(), 0)
	require.ErrorIs(t, err, ErrValidation)
}
