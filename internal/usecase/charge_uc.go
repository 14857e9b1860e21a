// File: internal/usecase/charge_uc.go
package usecase

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/domain/ports/repository"
	"telegram-subscription-billing/internal/infra/logging"
)

// Compile-time check
var _ ChargeUseCase = (*chargeUC)(nil)

// Charge outcomes per candidate, reported to the scheduler worker.
const (
	ChargeOutcomeIssued               = "issued"
	ChargeOutcomeSkipped              = "skipped"
	ChargeOutcomeGuardDenied          = "guard_denied"
	ChargeOutcomeProviderError        = "provider_error"
	ChargeOutcomeRecurringUnavailable = "recurring_unavailable"
)

// SweepStats summarizes one pass over due subscriptions.
type SweepStats struct {
	Due      int
	Outcomes map[string]int
}

type ChargeUseCase interface {
	// RunDueCharges selects due subscriptions and issues provider
	// charges for those that clear the admission guards. The money
	// outcome arrives later via webhook; this only starts attempts.
	RunDueCharges(ctx context.Context) (SweepStats, error)

	// ChargeSubscription force-runs one subscription through the same
	// guarded path (admin tooling).
	ChargeSubscription(ctx context.Context, subscriptionID string) (string, error)
}

type chargeUC struct {
	subs     repository.SubscriptionRepository
	attempts repository.ChargeAttemptRepository
	methods  repository.PaymentMethodRepository
	gateway  adapter.PaymentGateway
	bot      adapter.TelegramBotAdapter
	clk      clock.Clock
	cfg      *config.BillingConfig
	batch    int
	log      *zerolog.Logger
}

// pendingAttemptGrace is how long a created attempt without a provider
// payment id blocks a new charge. Covers a crash between the attempt
// insert and the provider call.
const pendingAttemptGrace = 5 * time.Minute

func NewChargeUseCase(
	subs repository.SubscriptionRepository,
	attempts repository.ChargeAttemptRepository,
	methods repository.PaymentMethodRepository,
	gateway adapter.PaymentGateway,
	bot adapter.TelegramBotAdapter,
	clk clock.Clock,
	cfg *config.BillingConfig,
	batchLimit int,
	logger *zerolog.Logger,
) *chargeUC {
	l := logger.With().Str("component", "charge_uc").Logger()
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &chargeUC{
		subs:     subs,
		attempts: attempts,
		methods:  methods,
		gateway:  gateway,
		bot:      bot,
		clk:      clk,
		cfg:      cfg,
		batch:    batchLimit,
		log:      &l,
	}
}

func (u *chargeUC) RunDueCharges(ctx context.Context) (SweepStats, error) {
	defer logging.TraceDuration(u.log, "ChargeUC.RunDueCharges")()

	now := u.clk.Now()
	stats := SweepStats{Outcomes: map[string]int{}}

	due, err := u.subs.FindDue(ctx, repository.NoTX, now, u.batch)
	if err != nil {
		return stats, err
	}
	stats.Due = len(due)

	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		outcome, err := u.chargeOne(ctx, sub, now)
		if err != nil {
			u.log.Error().Err(err).Str("subscription_id", sub.ID).Int64("user_id", sub.UserID).
				Msg("charge candidate failed")
		}
		stats.Outcomes[outcome]++
	}
	return stats, nil
}

func (u *chargeUC) ChargeSubscription(ctx context.Context, subscriptionID string) (string, error) {
	sub, err := u.subs.FindByID(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return "", err
	}
	if sub.MethodToken == "" && sub.PaymentMethodID != nil {
		pm, err := u.methods.FindByID(ctx, repository.NoTX, *sub.PaymentMethodID)
		if err != nil {
			return "", err
		}
		if !pm.Deleted() {
			sub.MethodToken = pm.ProviderToken
			sub.MethodKind = pm.Kind
		}
	}
	if sub.MethodToken == "" {
		return "", domain.ErrRecurringUnavailable
	}
	return u.chargeOne(ctx, sub, u.clk.Now())
}

func (u *chargeUC) chargeOne(ctx context.Context, sub *model.Subscription, now time.Time) (string, error) {
	ctx = logging.WithSubscriptionID(ctx, sub.ID)

	// A still-open attempt means an earlier run already talked to the
	// provider (or is about to); never double-charge behind it.
	open, err := u.attempts.FindOpenBySubscription(ctx, repository.NoTX, sub.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return ChargeOutcomeSkipped, err
	}
	if open != nil && !open.Status.Terminal() {
		if open.PaymentID != nil {
			return ChargeOutcomeSkipped, nil
		}
		if now.Sub(open.AttemptedAt) < pendingAttemptGrace {
			return ChargeOutcomeSkipped, nil
		}
	}

	attemptID, err := u.subs.PrechargeGuardAndAttempt(ctx, sub.ID, sub.UserID, now)
	if err != nil {
		if errors.Is(err, domain.ErrGuardDenied) {
			return ChargeOutcomeGuardDenied, nil
		}
		return ChargeOutcomeSkipped, err
	}

	paymentID, err := u.gateway.ChargeSavedMethod(ctx, adapter.ChargeRequest{
		UserID:      sub.UserID,
		MethodToken: sub.MethodToken,
		Amount:      sub.Price,
		Description: "Subscription renewal (" + string(sub.PlanCode) + ")",
		Metadata: map[string]string{
			model.MetaUserID:         strconv.FormatInt(sub.UserID, 10),
			model.MetaPlanCode:       string(sub.PlanCode),
			model.MetaMonths:         strconv.Itoa(sub.IntervalMonths),
			model.MetaRecurring:      "1",
			model.MetaPhase:          model.PhaseRenewal,
			model.MetaSubscriptionID: sub.ID,
		},
	})
	if err != nil {
		return u.absorbChargeError(ctx, sub, now, err)
	}

	if ok, err := u.attempts.LinkPayment(ctx, repository.NoTX, attemptID, paymentID); err != nil {
		u.log.Error().Err(err).Str("attempt_id", attemptID).Str("payment_id", paymentID).
			Msg("attempt link failed, webhook will arrive unlinked")
	} else if !ok {
		u.log.Warn().Str("attempt_id", attemptID).Str("payment_id", paymentID).
			Msg("attempt already linked")
	}
	return ChargeOutcomeIssued, nil
}

// absorbChargeError closes the fresh attempt. The failure counter only
// moves for definitive refusals: a transport or provider error may
// still be followed by a canceled webhook, and that delivery owns the
// count.
func (u *chargeUC) absorbChargeError(ctx context.Context, sub *model.Subscription, now time.Time, chargeErr error) (string, error) {
	if _, err := u.attempts.MarkLatestOpenBySubscription(ctx, repository.NoTX, sub.ID, model.ChargeAttemptFailed); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Msg("closing refused attempt failed")
	}

	if !errors.Is(chargeErr, domain.ErrRecurringUnavailable) {
		return ChargeOutcomeProviderError, chargeErr
	}

	// No saved method or the provider rejected the agreement outright;
	// no webhook will ever arrive for this one.
	gap := time.Duration(u.cfg.RetryMinGapHours) * time.Hour
	fails, notify, err := u.subs.RegisterFailure(ctx, sub.ID, now, gap)
	if err != nil {
		logging.With(ctx, u.log).Error().Err(err).Msg("failure register failed")
	}
	if notify {
		text := "We could not renew your subscription. We will retry automatically; please check your card balance."
		if fails >= u.cfg.GraceFailThreshold {
			text = "Your subscription renewal keeps failing and access is paused. Update your payment method to restore it."
		}
		if serr := u.bot.SendMessage(ctx, sub.UserID, text); serr != nil {
			u.log.Warn().Err(serr).Int64("user_id", sub.UserID).Msg("failure notice failed")
		}
	}
	return ChargeOutcomeRecurringUnavailable, nil
}
