// File: internal/usecase/entitlement_uc.go
package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

type EntitlementUseCase interface {
	// Resolve answers "may this user use the product right now".
	// Precedence: active trial, then open paid window, then the
	// post-due grace allowance, then nothing.
	Resolve(ctx context.Context, userID int64) (model.Entitlement, error)

	// TryFreePass consumes one unit of the no-entitlement courtesy
	// quota. Quota-store outages grant the pass (fail open).
	TryFreePass(ctx context.Context, userID int64) (bool, error)
}

type entitlementUC struct {
	trials    repository.TrialRepository
	subs      repository.SubscriptionRepository
	paidCache adapter.PaidThroughCache
	quota     adapter.QuotaStore
	clk       clock.Clock
	cfg       *config.BillingConfig
	log       *zerolog.Logger
}

func NewEntitlementUseCase(
	trials repository.TrialRepository,
	subs repository.SubscriptionRepository,
	paidCache adapter.PaidThroughCache,
	quota adapter.QuotaStore,
	clk clock.Clock,
	cfg *config.BillingConfig,
	logger *zerolog.Logger,
) *entitlementUC {
	l := logger.With().Str("component", "entitlement_uc").Logger()
	return &entitlementUC{
		trials:    trials,
		subs:      subs,
		paidCache: paidCache,
		quota:     quota,
		clk:       clk,
		cfg:       cfg,
		log:       &l,
	}
}

func (u *entitlementUC) Resolve(ctx context.Context, userID int64) (model.Entitlement, error) {
	now := u.clk.Now()

	trial, err := u.trials.FindByUser(ctx, repository.NoTX, userID)
	switch {
	case err == nil:
		if trial.Active(now) {
			return model.Entitlement{Kind: model.EntitlementTrial, Until: trial.TrialUntil}, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return model.NoEntitlement(), err
	}

	// Hot path: the cache holds the paid-through timestamp written on
	// the last successful charge. Cache trouble falls through to the
	// ledger.
	if until, ok, cerr := u.paidCache.Get(ctx, userID); cerr == nil && ok && until.After(now) {
		return model.Entitlement{Kind: model.EntitlementPaid, Until: until}, nil
	} else if cerr != nil {
		u.log.Warn().Err(cerr).Int64("user_id", userID).Msg("paid cache read failed")
	}

	sub, err := u.subs.FindActiveByUser(ctx, repository.NoTX, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return model.NoEntitlement(), nil
		}
		return model.NoEntitlement(), err
	}

	if sub.PaidThrough(now) {
		if cerr := u.paidCache.Remember(ctx, userID, *sub.NextChargeAt); cerr != nil {
			u.log.Warn().Err(cerr).Int64("user_id", userID).Msg("paid cache remember failed")
		}
		return model.Entitlement{Kind: model.EntitlementPaid, Until: *sub.NextChargeAt}, nil
	}
	if sub.InGrace(now, u.cfg.GraceFailThreshold) {
		return model.Entitlement{Kind: model.EntitlementGrace, Fails: sub.ConsecutiveFailures}, nil
	}
	return model.NoEntitlement(), nil
}

func (u *entitlementUC) TryFreePass(ctx context.Context, userID int64) (bool, error) {
	granted, used, remaining, err := u.quota.TryConsume(ctx, adapter.FreePassKey(userID),
		u.cfg.FreePassLimit, u.cfg.FreePassWindow)
	if err != nil {
		// Courtesy quota, not billing state: an unreachable counter
		// must not lock users out.
		u.log.Warn().Err(err).Int64("user_id", userID).Msg("quota store unavailable, granting pass")
		return true, nil
	}
	if !granted {
		u.log.Debug().Int64("user_id", userID).Int("used", used).Int("remaining", remaining).
			Msg("free pass quota exhausted")
	}
	return granted, nil
}
