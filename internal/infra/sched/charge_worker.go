// File: internal/infra/sched/charge_worker.go
package sched

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/infra/metrics"
	"telegram-subscription-billing/internal/infra/worker"
	"telegram-subscription-billing/internal/usecase"
)

// ChargeWorker periodically sweeps due subscriptions through the
// charge use case. Sweeps run on the shared pool; an in-flight flag
// keeps a slow sweep from stacking behind the ticker.
type ChargeWorker struct {
	interval time.Duration
	chargeUC usecase.ChargeUseCase
	pool     *worker.Pool
	running  atomic.Bool
	log      *zerolog.Logger
}

func NewChargeWorker(interval time.Duration, chargeUC usecase.ChargeUseCase, pool *worker.Pool, logger *zerolog.Logger) *ChargeWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "charge_worker").Logger()
	return &ChargeWorker{interval: interval, chargeUC: chargeUC, pool: pool, log: &l}
}

func (w *ChargeWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("charge worker started")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("charge worker stopping")
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

func (w *ChargeWorker) tick(ctx context.Context) {
	metrics.IncChargeTick()
	stats, err := w.chargeUC.RunDueCharges(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("due charge sweep failed")
		return
	}
	metrics.SetChargeDueSubscriptions(stats.Due)
	for outcome, n := range stats.Outcomes {
		if outcome == usecase.ChargeOutcomeGuardDenied {
			metrics.AddChargeGuardDenials(n)
			continue
		}
		metrics.AddChargeAttempts(outcome, n)
	}
	if stats.Due > 0 {
		w.log.Info().Int("due", stats.Due).Interface("outcomes", stats.Outcomes).Msg("sweep done")
	}
}
