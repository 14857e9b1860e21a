//go:build !integration

package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/domain"
	red "telegram-subscription-billing/internal/infra/redis"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// fakeClient is an in-memory stand-in for the Redis connection.
type fakeClient struct {
	values    map[string]string
	zcount    int
	evalReply interface{}
	err       error
}

var _ red.RedisClient = (*fakeClient)(nil)

func newFakeClient() *fakeClient { return &fakeClient{values: map[string]string{}} }

func (f *fakeClient) Ping(context.Context) error { return f.err }

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.values[key] = value.(string)
	return nil
}

func (f *fakeClient) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeClient) Get(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

// Eval emulates just the sliding-window quota script.
func (f *fakeClient) Eval(_ context.Context, _ string, _ []string, args ...interface{}) (interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.evalReply != nil {
		return f.evalReply, nil
	}
	limit := args[1].(int)
	if f.zcount >= limit {
		return []interface{}{int64(0), int64(f.zcount)}, nil
	}
	f.zcount++
	return []interface{}{int64(1), int64(f.zcount)}, nil
}

func (f *fakeClient) Expire(context.Context, string, time.Duration) error { return f.err }

func (f *fakeClient) Del(_ context.Context, keys ...string) error {
	if f.err != nil {
		return f.err
	}
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func (f *fakeClient) FlushDB(context.Context) error { return f.err }

func (f *fakeClient) Close() error { return nil }

func TestDedup(t *testing.T) {
	ctx := context.Background()

	t.Run("should grant the key to the first writer only", func(t *testing.T) {
		cli := newFakeClient()
		d := red.NewDedup(cli, newTestLogger())

		first, err := d.SetNXTTL(ctx, "wh:pay-1:succeeded", time.Hour)
		if err != nil || !first {
			t.Fatalf("first claim should win, got first=%v err=%v", first, err)
		}
		second, err := d.SetNXTTL(ctx, "wh:pay-1:succeeded", time.Hour)
		if err != nil || second {
			t.Fatalf("second claim should lose, got first=%v err=%v", second, err)
		}
	})

	t.Run("should surface outages as ErrDedupUnavailable", func(t *testing.T) {
		cli := newFakeClient()
		cli.err = errors.New("connection refused")
		d := red.NewDedup(cli, newTestLogger())

		_, err := d.SetNXTTL(ctx, "wh:pay-1:succeeded", time.Hour)

		if !errors.Is(err, domain.ErrDedupUnavailable) {
			t.Fatalf("expected ErrDedupUnavailable, got: %v", err)
		}
	})

	t.Run("should free the key on release", func(t *testing.T) {
		cli := newFakeClient()
		d := red.NewDedup(cli, newTestLogger())

		if _, err := d.SetNXTTL(ctx, "k", time.Hour); err != nil {
			t.Fatal(err)
		}
		d.Release(ctx, "k")

		first, err := d.SetNXTTL(ctx, "k", time.Hour)
		if err != nil || !first {
			t.Fatalf("a released key must be claimable again, got first=%v err=%v", first, err)
		}
	})
}

func TestQuota(t *testing.T) {
	ctx := context.Background()

	t.Run("should grant until the window is full", func(t *testing.T) {
		q := red.NewQuota(newFakeClient(), clock.NewFixed(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))

		for i := 1; i <= 2; i++ {
			ok, used, remaining, err := q.TryConsume(ctx, "quota:free_pass:42", 2, time.Hour)
			if err != nil || !ok || used != i || remaining != 2-i {
				t.Fatalf("grant %d: got ok=%v used=%d remaining=%d err=%v", i, ok, used, remaining, err)
			}
		}
		ok, used, remaining, err := q.TryConsume(ctx, "quota:free_pass:42", 2, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if ok || used != 2 || remaining != 0 {
			t.Fatalf("the window is full, got ok=%v used=%d remaining=%d", ok, used, remaining)
		}
	})

	t.Run("should propagate store errors to the caller", func(t *testing.T) {
		cli := newFakeClient()
		cli.err = errors.New("connection refused")
		q := red.NewQuota(cli, clock.NewFixed(time.Now()))

		_, _, _, err := q.TryConsume(ctx, "quota:free_pass:42", 2, time.Hour)

		if err == nil {
			t.Fatal("the fail-open decision belongs to the caller, not here")
		}
	})

	t.Run("should reject a malformed script reply", func(t *testing.T) {
		cli := newFakeClient()
		cli.evalReply = "OK"
		q := red.NewQuota(cli, clock.NewFixed(time.Now()))

		_, _, _, err := q.TryConsume(ctx, "quota:free_pass:42", 2, time.Hour)

		if err == nil {
			t.Fatal("expected an error for a non-array reply")
		}
	})
}

func TestPaidCache(t *testing.T) {
	ctx := context.Background()

	t.Run("should round-trip the paid-through instant", func(t *testing.T) {
		c := red.NewPaidCache(newFakeClient(), time.Hour)
		paid := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

		if err := c.Remember(ctx, 42, paid); err != nil {
			t.Fatal(err)
		}
		got, ok, err := c.Get(ctx, 42)

		if err != nil || !ok {
			t.Fatalf("expected a hit, got ok=%v err=%v", ok, err)
		}
		if !got.Equal(paid) {
			t.Errorf("want %v, got %v", paid, got)
		}
	})

	t.Run("should report a clean miss for unknown users", func(t *testing.T) {
		c := red.NewPaidCache(newFakeClient(), time.Hour)

		_, ok, err := c.Get(ctx, 7)

		if err != nil {
			t.Fatalf("a miss is not an error, got: %v", err)
		}
		if ok {
			t.Fatal("expected a miss")
		}
	})

	t.Run("should forget on invalidate", func(t *testing.T) {
		c := red.NewPaidCache(newFakeClient(), time.Hour)
		if err := c.Remember(ctx, 42, time.Now().Add(time.Hour)); err != nil {
			t.Fatal(err)
		}

		if err := c.Invalidate(ctx, 42); err != nil {
			t.Fatal(err)
		}

		if _, ok, _ := c.Get(ctx, 42); ok {
			t.Fatal("invalidated entries must miss")
		}
	})
}
