// File: internal/infra/sched/notification_worker.go
package sched

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/infra/metrics"
	"telegram-subscription-billing/internal/infra/worker"
	"telegram-subscription-billing/internal/usecase"
)

// NotificationWorker runs the lifecycle-message sweep. Dedup keys make
// the sweep safe to run from several instances at once.
type NotificationWorker struct {
	interval time.Duration
	notifyUC usecase.NotificationUseCase
	pool     *worker.Pool
	running  atomic.Bool
	log      *zerolog.Logger
}

func NewNotificationWorker(interval time.Duration, notifyUC usecase.NotificationUseCase, pool *worker.Pool, logger *zerolog.Logger) *NotificationWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	l := logger.With().Str("component", "notification_worker").Logger()
	return &NotificationWorker{interval: interval, notifyUC: notifyUC, pool: pool, log: &l}
}

func (w *NotificationWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("notification worker started")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("notification worker stopping")
			return
		case <-t.C:
			if !w.running.CompareAndSwap(false, true) {
				continue
			}
			if err := w.pool.Submit(func(ctx context.Context) error {
				defer w.running.Store(false)
				w.tick(ctx)
				return nil
			}); err != nil {
				w.running.Store(false)
				w.log.Warn().Err(err).Msg("sweep submit failed")
			}
		}
	}
}

func (w *NotificationWorker) tick(ctx context.Context) {
	stats, err := w.notifyUC.RunSweep(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("notification sweep failed")
		return
	}
	for scenario, n := range stats.Sent {
		metrics.AddNotificationsSent(scenario, n)
	}
	for key, n := range stats.Skipped {
		scenario, reason := key, "other"
		if i := strings.IndexByte(key, ':'); i >= 0 {
			scenario, reason = key[:i], key[i+1:]
		}
		metrics.AddNotificationsSkipped(scenario, reason, n)
	}
	if len(stats.Sent) > 0 {
		w.log.Info().Interface("sent", stats.Sent).Msg("notifications delivered")
	}
}
