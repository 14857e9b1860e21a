package redis

import (
	"context"
	"fmt"
	"time"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/domain/ports/adapter"

	"github.com/google/uuid"
)

var _ adapter.QuotaStore = (*Quota)(nil)

// Quota is a sliding-window counter over a Redis sorted set. Members are
// scored by unix-nano timestamps; the window is trimmed on every check.
type Quota struct {
	client RedisClient
	clk    clock.Clock
}

func NewQuota(client RedisClient, clk clock.Clock) *Quota {
	return &Quota{client: client, clk: clk}
}

// Trim expired members, count the rest, and add a new one only when the
// count is under the limit. Returns {allowed, used}.
var luaQuota = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local used = redis.call("ZCARD", KEYS[1])
if used < tonumber(ARGV[2]) then
	redis.call("ZADD", KEYS[1], ARGV[3], ARGV[4])
	redis.call("EXPIRE", KEYS[1], ARGV[5])
	return {1, used + 1}
end
return {0, used}
`

// TryConsume takes one unit from the window if capacity remains. It
// reports whether the unit was granted plus the units used and left.
func (q *Quota) TryConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, int, int, error) {
	now := q.clk.Now()
	cutoff := now.Add(-window).UnixNano()
	res, err := q.client.Eval(ctx, luaQuota,
		[]string{key},
		cutoff, limit, now.UnixNano(), uuid.NewString(), int(window.Seconds()))
	if err != nil {
		return false, 0, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, 0, fmt.Errorf("quota: unexpected script reply %v", res)
	}
	granted, _ := vals[0].(int64)
	used, _ := vals[1].(int64)
	remaining := limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return granted == 1, int(used), remaining, nil
}
