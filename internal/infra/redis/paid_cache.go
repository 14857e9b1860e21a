package redis

import (
	"context"
	"fmt"
	"time"

	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/infra/metrics"
)

var _ adapter.PaidThroughCache = (*PaidCache)(nil)

// PaidCache remembers the paid-through timestamp of a user's last
// successful charge so entitlement checks can skip the database on the
// hot path. It is advisory only; a miss or error falls through to the
// ledger.
type PaidCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewPaidCache(client RedisClient, ttl time.Duration) *PaidCache {
	return &PaidCache{client: client, ttl: ttl}
}

func paidKey(userID int64) string { return fmt.Sprintf("paid:last:%d", userID) }

func (c *PaidCache) Remember(ctx context.Context, userID int64, paidThrough time.Time) error {
	return c.client.Set(ctx, paidKey(userID), paidThrough.UTC().Format(time.RFC3339), c.ttl)
}

// Get returns the cached paid-through time, or ok=false on a miss.
func (c *PaidCache) Get(ctx context.Context, userID int64) (time.Time, bool, error) {
	raw, err := c.client.Get(ctx, paidKey(userID))
	if err != nil {
		if IsNil(err) {
			metrics.IncPaidCacheMiss()
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	metrics.IncPaidCacheHit()
	return t, true, nil
}

func (c *PaidCache) Invalidate(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, paidKey(userID))
}
