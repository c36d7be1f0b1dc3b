package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*SummaryCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSummaryCache(client, time.Minute), srv
}

func TestSummaryCacheFetchAndBump(t *testing.T) {
	cache, srv := newTestCache(t)
	ctx := context.Background()
	id := uuid.New()

	calls := 0
	loader := func(context.Context) (Summary, error) {
		calls++
		return Summary{ProductID: id, Quantity: int64(calls), LedgerQuantity: int64(calls), Consistent: true, InventoryValue: decimal.NewFromInt(5)}, nil
	}

	first, err := cache.Fetch(ctx, id, loader)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Quantity)

	second, err := cache.Fetch(ctx, id, loader)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, first.Quantity, second.Quantity)
	require.True(t, second.InventoryValue.Equal(decimal.NewFromInt(5)))

	require.NoError(t, cache.Bump(ctx, id))
	require.Equal(t, "1", mustGet(t, srv, versionKey(id)))

	third, err := cache.Fetch(ctx, id, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, int64(2), third.Quantity)
}

func TestSummaryCacheExpires(t *testing.T) {
	cache, srv := newTestCache(t)
	ctx := context.Background()
	id := uuid.New()
	calls := 0
	loader := func(context.Context) (Summary, error) {
		calls++
		return Summary{ProductID: id}, nil
	}
	_, err := cache.Fetch(ctx, id, loader)
	require.NoError(t, err)
	srv.FastForward(2 * time.Minute)
	_, err = cache.Fetch(ctx, id, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestSummaryCacheLoaderErrorNotCached(t *testing.T) {
	cache, _ := newTestCache(t)
	boom := errors.New("db down")
	_, err := cache.Fetch(context.Background(), uuid.New(), func(context.Context) (Summary, error) {
		return Summary{}, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestNilSummaryCachePassesThrough(t *testing.T) {
	var cache *SummaryCache
	s, err := cache.Fetch(context.Background(), uuid.New(), func(context.Context) (Summary, error) {
		return Summary{Quantity: 9}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(9), s.Quantity)
	require.NoError(t, cache.Bump(context.Background(), uuid.New()))
}

func mustGet(t *testing.T, srv *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := srv.Get(key)
	require.NoError(t, err)
	return v
}
