package adapter

import (
	"context"
	"fmt"
	"time"
)

// DedupStore is first-writer-wins key claiming with a TTL. Errors mean
// the store is unreachable; callers decide fail-open vs fail-closed.
type DedupStore interface {
	SetNXTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so the event can be retried.
	Release(ctx context.Context, key string)
}

// QuotaStore is a sliding-window counter.
type QuotaStore interface {
	// TryConsume takes one unit from the window if capacity remains,
	// reporting the units used and left afterwards.
	TryConsume(ctx context.Context, key string, limit int, window time.Duration) (granted bool, used, remaining int, err error)
}

// PaidThroughCache caches the end of a user's paid window.
type PaidThroughCache interface {
	Remember(ctx context.Context, userID int64, paidThrough time.Time) error
	Get(ctx context.Context, userID int64) (time.Time, bool, error)
	Invalidate(ctx context.Context, userID int64) error
}

// Dedup key layouts. Keys are shared between the webhook reconciler and
// the notification dispatcher, so they live with the port.

func WebhookKey(paymentID, status string) string {
	return fmt.Sprintf("wh:%s:%s", paymentID, status)
}

func NotificationKey(scenario string, userID int64, milestone string) string {
	return fmt.Sprintf("notif:%s:%d:%s", scenario, userID, milestone)
}

func PaidOKKey(paymentID string) string {
	return fmt.Sprintf("notify:paid_ok:%s", paymentID)
}

func FreePassKey(userID int64) string {
	return fmt.Sprintf("quota:free_pass:%d", userID)
}
