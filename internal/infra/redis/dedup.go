package redis

import (
	"context"
	"fmt"
	"time"

	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Dedup is a first-writer-wins key registry. Callers that cannot reach
// Redis must treat the key as already seen, so errors are surfaced as
// ErrDedupUnavailable rather than swallowed.
type Dedup struct {
	client RedisClient
	log    *zerolog.Logger
}

func NewDedup(client RedisClient, log *zerolog.Logger) *Dedup {
	l := log.With().Str("component", "dedup").Logger()
	return &Dedup{client: client, log: &l}
}

// SetNXTTL claims key for ttl. It returns true when this caller is the
// first writer, false when the key already exists.
func (d *Dedup) SetNXTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, key, "1", ttl)
	if err != nil {
		metrics.IncDedupError()
		d.log.Error().Err(err).Str("key", key).Msg("dedup unavailable")
		return false, fmt.Errorf("%w: %v", domain.ErrDedupUnavailable, err)
	}
	if !ok {
		metrics.IncDedupHit()
	}
	return ok, nil
}

// Release drops a previously claimed key. Used when processing failed
// after the claim and the event must be retryable.
func (d *Dedup) Release(ctx context.Context, key string) {
	if err := d.client.Del(ctx, key); err != nil {
		d.log.Error().Err(err).Str("key", key).Msg("dedup release failed")
	}
}

var _ adapter.DedupStore = (*Dedup)(nil)
