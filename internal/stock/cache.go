package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// SummaryCache keeps stock summaries in Redis under a per-product version.
// Bumping the version makes every cached entry for the product unreachable.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewSummaryCache instantiates the cache helper. A nil client disables caching.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SummaryCache{client: client, ttl: ttl}
}

func versionKey(id uuid.UUID) string {
	return fmt.Sprintf("stock:summary:%s:version", id)
}

func (c *SummaryCache) version(ctx context.Context, id uuid.UUID) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// Fetch returns the cached summary or loads it once per concurrent caller group.
func (c *SummaryCache) Fetch(ctx context.Context, id uuid.UUID, loader func(context.Context) (Summary, error)) (Summary, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.version(ctx, id)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("stock:summary:%s:%d", id, ver)

	v, err, _ := c.group.Do(key, func() (any, error) {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var cached Summary
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
		}
		summary, err := loader(ctx)
		if err != nil {
			return Summary{}, err
		}
		if raw, err := json.Marshal(summary); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return summary, nil
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

// Bump invalidates the cached summaries of the given products.
func (c *SummaryCache) Bump(ctx context.Context, ids ...uuid.UUID) error {
	if c == nil || c.client == nil || len(ids) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, id := range ids {
		pipe.Incr(ctx, versionKey(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}
