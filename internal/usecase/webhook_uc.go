// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
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
var _ WebhookUseCase = (*webhookUC)(nil)

// Webhook processing outcomes, reported for observability.
const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeAck       = "ack"
	WebhookOutcomeAnomaly   = "anomaly"
)

// WebhookResult tells the transport layer what happened to a delivery.
type WebhookResult struct {
	PaymentID string
	Status    string
	Outcome   string
}

type WebhookUseCase interface {
	// HandleEvent runs one provider delivery through parse, dedup,
	// audit, and the ledger transition. A nil error means the delivery
	// is acknowledged; domain.ErrMalformedEvent means it never will be.
	HandleEvent(ctx context.Context, body []byte) (*WebhookResult, error)
}

type webhookUC struct {
	txm       repository.TransactionManager
	subs      repository.SubscriptionRepository
	attempts  repository.ChargeAttemptRepository
	methods   repository.PaymentMethodRepository
	paylog    repository.PaymentLogRepository
	trials    repository.TrialRepository
	gateway   adapter.PaymentGateway
	bot       adapter.TelegramBotAdapter
	dedup     adapter.DedupStore
	paidCache adapter.PaidThroughCache
	clk       clock.Clock
	cfg       *config.BillingConfig
	dedupTTL  time.Duration
	notifyTTL time.Duration
	log       *zerolog.Logger
}

func NewWebhookUseCase(
	txm repository.TransactionManager,
	subs repository.SubscriptionRepository,
	attempts repository.ChargeAttemptRepository,
	methods repository.PaymentMethodRepository,
	paylog repository.PaymentLogRepository,
	trials repository.TrialRepository,
	gateway adapter.PaymentGateway,
	bot adapter.TelegramBotAdapter,
	dedup adapter.DedupStore,
	paidCache adapter.PaidThroughCache,
	clk clock.Clock,
	cfg *config.BillingConfig,
	dedupTTL time.Duration,
	logger *zerolog.Logger,
) *webhookUC {
	l := logger.With().Str("component", "webhook_uc").Logger()
	return &webhookUC{
		txm:       txm,
		subs:      subs,
		attempts:  attempts,
		methods:   methods,
		paylog:    paylog,
		trials:    trials,
		gateway:   gateway,
		bot:       bot,
		dedup:     dedup,
		paidCache: paidCache,
		clk:       clk,
		cfg:       cfg,
		dedupTTL:  dedupTTL,
		notifyTTL: time.Duration(cfg.NotifyTTLDays) * 24 * time.Hour,
		log:       &l,
	}
}

func (u *webhookUC) HandleEvent(ctx context.Context, body []byte) (*WebhookResult, error) {
	defer logging.TraceDuration(u.log, "WebhookUC.HandleEvent")()

	ev, err := u.gateway.ParseEvent(body)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithPaymentID(ctx, ev.PaymentID)
	res := &WebhookResult{PaymentID: ev.PaymentID, Status: ev.Status}

	// Transitional statuses carry no ledger consequence; acknowledge so
	// the provider stops retrying them.
	if !ev.Terminal() {
		res.Outcome = WebhookOutcomeAck
		return res, nil
	}

	key := adapter.WebhookKey(ev.PaymentID, ev.Status)
	first, err := u.dedup.SetNXTTL(ctx, key, u.dedupTTL)
	if err != nil {
		// Fail closed: without the dedup store a replay cannot be told
		// from a first delivery, so force a provider retry.
		return nil, err
	}
	if !first {
		res.Outcome = WebhookOutcomeDuplicate
		return res, nil
	}

	// Durable second line: a processed terminal event never re-applies,
	// even after the Redis key expired.
	processed, err := u.paylog.IsProcessed(ctx, repository.NoTX, ev.PaymentID)
	if err != nil {
		u.dedup.Release(ctx, key)
		return nil, err
	}
	if processed {
		res.Outcome = WebhookOutcomeDuplicate
		return res, nil
	}

	now := u.clk.Now()
	if err := u.audit(ctx, ev, now); err != nil {
		u.dedup.Release(ctx, key)
		return nil, err
	}

	switch ev.Status {
	case model.EventStatusSucceeded:
		err = u.applySuccess(ctx, ev, now, res)
	default: // canceled, expired
		err = u.applyFailure(ctx, ev, now, res)
	}
	if err != nil {
		u.dedup.Release(ctx, key)
		return nil, err
	}

	if err := u.paylog.MarkProcessed(ctx, repository.NoTX, ev.PaymentID, now); err != nil {
		u.dedup.Release(ctx, key)
		return nil, err
	}
	if res.Outcome == "" {
		res.Outcome = WebhookOutcomeProcessed
	}
	return res, nil
}

// audit upserts the payment log row before any state transition so a
// crash mid-processing still leaves a trace.
func (u *webhookUC) audit(ctx context.Context, ev *model.ProviderEvent, now time.Time) error {
	userID, _ := metaInt64(ev.Metadata, model.MetaUserID)
	planCode, _ := model.ParsePlanCode(ev.Metadata[model.MetaPlanCode])
	return u.paylog.Upsert(ctx, repository.NoTX, &model.PaymentLog{
		PaymentID:  ev.PaymentID,
		UserID:     userID,
		Event:      ev.Event,
		Status:     ev.Status,
		Amount:     ev.Amount,
		PlanCode:   planCode,
		Recurring:  recurringMeta(ev.Metadata),
		Phase:      eventPhase(ev),
		Metadata:   ev.Metadata,
		RawPayload: ev.Raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (u *webhookUC) applySuccess(ctx context.Context, ev *model.ProviderEvent, now time.Time, res *WebhookResult) error {
	userID, ok := metaInt64(ev.Metadata, model.MetaUserID)
	if !ok {
		// Unroutable money: keep the audit row, flag loudly, do not retry.
		logging.With(ctx, u.log).Error().Msg("succeeded event without user_id metadata")
		res.Outcome = WebhookOutcomeAnomaly
		return nil
	}
	phase := eventPhase(ev)
	plan := u.resolvePlan(ev)

	var paidThrough time.Time
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		pmID, err := u.upsertMethod(ctx, tx, ev, userID, now)
		if err != nil {
			return err
		}

		switch phase {
		case model.PhaseTrial, model.PhaseTrialTokenless:
			until, err := u.grantTrial(ctx, tx, ev, userID, now)
			if err != nil {
				return err
			}
			paidThrough = until
			if phase == model.PhaseTrial {
				if pmID == nil {
					// Method was not saved; the trial stands but nothing
					// can renew it.
					u.log.Warn().Str("payment_id", ev.PaymentID).Int64("user_id", userID).
						Msg("trial payment without saved method, no subscription created")
					res.Outcome = WebhookOutcomeAnomaly
					return nil
				}
				return u.upsertSubscription(ctx, tx, userID, plan, pmID, until, now)
			}
			return nil

		case model.PhasePurchase:
			paidThrough = now.AddDate(0, plan.Months, 0)
			return u.upsertSubscription(ctx, tx, userID, plan, pmID, paidThrough, now)

		default: // renewal
			next, err := u.applyRenewal(ctx, tx, ev, userID, plan, now, res)
			if err != nil {
				return err
			}
			paidThrough = next
			return nil
		}
	})
	if err != nil {
		return err
	}

	if !paidThrough.IsZero() {
		if cerr := u.paidCache.Remember(ctx, userID, paidThrough); cerr != nil {
			u.log.Warn().Err(cerr).Int64("user_id", userID).Msg("paid cache remember failed")
		}
	}
	u.sendThankYou(ctx, ev, userID, phase, paidThrough)
	return nil
}

// upsertMethod persists a tokenized payment method from the event, if
// the provider saved one.
func (u *webhookUC) upsertMethod(ctx context.Context, tx repository.Tx, ev *model.ProviderEvent, userID int64, now time.Time) (*string, error) {
	m := ev.Method
	if m == nil || !m.Saved || m.Token == "" {
		return nil, nil
	}
	id, err := u.methods.UpsertFromProvider(ctx, tx, &model.PaymentMethod{
		ID:            model.NewID(),
		UserID:        userID,
		Provider:      u.gateway.Name(),
		ProviderToken: m.Token,
		Kind:          m.Kind,
		Brand:         m.Brand,
		First6:        m.First6,
		Last4:         m.Last4,
		ExpMonth:      m.ExpMonth,
		ExpYear:       m.ExpYear,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (u *webhookUC) grantTrial(ctx context.Context, tx repository.Tx, ev *model.ProviderEvent, userID int64, now time.Time) (time.Time, error) {
	hours := int64(u.cfg.TrialHoursDefault)
	if h, ok := metaInt64(ev.Metadata, model.MetaTrialHours); ok && h > 0 {
		hours = h
	}
	until := now.Add(time.Duration(hours) * time.Hour)
	if err := u.trials.Upsert(ctx, tx, userID, until, now); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

func (u *webhookUC) upsertSubscription(ctx context.Context, tx repository.Tx, userID int64, plan model.Plan, pmID *string, nextChargeAt, now time.Time) error {
	sub, err := model.NewSubscription(model.NewID(), userID, plan, pmID, nextChargeAt, now)
	if err != nil {
		return err
	}
	_, err = u.subs.Upsert(ctx, tx, sub, repository.UpsertOptions{UpdatePaymentMethod: pmID != nil})
	return err
}

// applyRenewal closes the ledger attempt and rolls the paid window.
func (u *webhookUC) applyRenewal(ctx context.Context, tx repository.Tx, ev *model.ProviderEvent, userID int64, plan model.Plan, now time.Time, res *WebhookResult) (time.Time, error) {
	subID := ev.Metadata[model.MetaSubscriptionID]

	attempt, err := u.attempts.FindByPayment(ctx, tx, ev.PaymentID)
	switch {
	case err == nil:
		subID = attempt.SubscriptionID
		if _, err := u.attempts.MarkStatusByPayment(ctx, tx, ev.PaymentID, model.ChargeAttemptSucceeded); err != nil {
			return time.Time{}, err
		}
	case errors.Is(err, domain.ErrNotFound):
		// The charge succeeded but its attempt never reached the
		// ledger. The money is real, so the window still rolls.
		logging.With(ctx, u.log).Error().Int64("user_id", userID).
			Msg("renewal success without ledger attempt")
		res.Outcome = WebhookOutcomeAnomaly
	default:
		return time.Time{}, err
	}

	sub, err := u.renewalTarget(ctx, tx, subID, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return time.Time{}, err
		}
		// No subscription either: restore one from event metadata.
		logging.With(ctx, u.log).Error().Int64("user_id", userID).
			Msg("renewal success without subscription row")
		res.Outcome = WebhookOutcomeAnomaly
		next := now.AddDate(0, plan.Months, 0)
		return next, u.upsertSubscription(ctx, tx, userID, plan, nil, next, now)
	}

	next := nextChargeAfter(sub, plan.Months, now)
	if _, err := u.subs.MarkChargedForUser(ctx, tx, userID, sub.ID, plan.Code, now, next); err != nil {
		return time.Time{}, err
	}
	return next, nil
}

func (u *webhookUC) renewalTarget(ctx context.Context, tx repository.Tx, subID string, userID int64) (*model.Subscription, error) {
	if subID != "" {
		return u.subs.FindByID(ctx, tx, subID)
	}
	return u.subs.FindActiveByUser(ctx, tx, userID)
}

// nextChargeAfter rolls the schedule from the planned charge date so
// retry delays do not drift the anchor day; a window more than one
// interval stale re-anchors at now.
func nextChargeAfter(sub *model.Subscription, months int, now time.Time) time.Time {
	base := now
	if sub.NextChargeAt != nil && sub.NextChargeAt.After(now.AddDate(0, -months, 0)) {
		base = *sub.NextChargeAt
	}
	next := base.AddDate(0, months, 0)
	if !next.After(now) {
		next = now.AddDate(0, months, 0)
	}
	return next
}

func (u *webhookUC) applyFailure(ctx context.Context, ev *model.ProviderEvent, now time.Time, res *WebhookResult) error {
	userID, hasUser := metaInt64(ev.Metadata, model.MetaUserID)
	subID := ev.Metadata[model.MetaSubscriptionID]

	status := model.ChargeAttemptCanceled
	if ev.Status == model.EventStatusExpired {
		status = model.ChargeAttemptExpired
	}

	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		attempt, err := u.attempts.FindByPayment(ctx, tx, ev.PaymentID)
		switch {
		case err == nil:
			subID = attempt.SubscriptionID
			if userID == 0 {
				userID, hasUser = attempt.UserID, true
			}
			_, err = u.attempts.MarkStatusByPayment(ctx, tx, ev.PaymentID, status)
			return err
		case errors.Is(err, domain.ErrNotFound):
			if subID != "" {
				_, err := u.attempts.MarkLatestOpenBySubscription(ctx, tx, subID, status)
				return err
			}
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return err
	}

	if hasUser {
		if cerr := u.paidCache.Invalidate(ctx, userID); cerr != nil {
			u.log.Warn().Err(cerr).Int64("user_id", userID).Msg("paid cache invalidate failed")
		}
	}

	// Abandoned checkouts end here; only recurring charges feed the
	// failure counter.
	if eventPhase(ev) != model.PhaseRenewal || subID == "" {
		return nil
	}

	gap := time.Duration(u.cfg.RetryMinGapHours) * time.Hour
	fails, notify, err := u.subs.RegisterFailure(ctx, subID, now, gap)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			u.log.Error().Str("payment_id", ev.PaymentID).Str("subscription_id", subID).
				Msg("failed renewal references unknown subscription")
			res.Outcome = WebhookOutcomeAnomaly
			return nil
		}
		return err
	}
	if notify && hasUser {
		u.sendFailureNotice(ctx, userID, fails)
	}
	return nil
}

func (u *webhookUC) sendThankYou(ctx context.Context, ev *model.ProviderEvent, userID int64, phase string, paidThrough time.Time) {
	first, err := u.dedup.SetNXTTL(ctx, adapter.PaidOKKey(ev.PaymentID), u.notifyTTL)
	if err != nil || !first {
		return
	}
	var text string
	switch phase {
	case model.PhaseTrial, model.PhaseTrialTokenless:
		text = fmt.Sprintf("Your trial is active until %s. Enjoy!",
			u.clk.ToDisplay(paidThrough).Format("Jan 2, 15:04"))
	default:
		text = fmt.Sprintf("Payment received, thank you! Your subscription is paid through %s.",
			u.clk.ToDisplay(paidThrough).Format("Jan 2, 2006"))
	}
	if err := u.bot.SendMessage(ctx, userID, text); err != nil {
		u.log.Warn().Err(err).Int64("user_id", userID).Msg("thank-you message failed")
	}
}

func (u *webhookUC) sendFailureNotice(ctx context.Context, userID int64, fails int) {
	if fails >= u.cfg.GraceFailThreshold {
		// Access is paused: the nag has to carry a way out.
		text := "Your subscription renewal keeps failing and access is paused. Update your payment method to restore it."
		rows := [][]adapter.InlineButton{{
			{Text: "Update payment method", Data: "billing:update_method"},
			{Text: "Manage subscription", Data: "billing:account"},
		}}
		if err := u.bot.SendButtons(ctx, userID, text, rows); err != nil {
			u.log.Warn().Err(err).Int64("user_id", userID).Msg("failure notice failed")
		}
		return
	}
	text := "We could not renew your subscription. We will retry automatically; please check your card balance."
	if err := u.bot.SendMessage(ctx, userID, text); err != nil {
		u.log.Warn().Err(err).Int64("user_id", userID).Msg("failure notice failed")
	}
}

// resolvePlan rebuilds the plan from event metadata. The price is the
// amount the user actually paid, not the current tariff.
func (u *webhookUC) resolvePlan(ev *model.ProviderEvent) model.Plan {
	code, err := model.ParsePlanCode(ev.Metadata[model.MetaPlanCode])
	if err != nil {
		code = model.PlanMonthly
	}
	months := code.Months()
	if m, ok := metaInt64(ev.Metadata, model.MetaMonths); ok && m > 0 {
		months = int(m)
	}
	return model.Plan{Code: code, Months: months, Price: ev.Amount}
}

func eventPhase(ev *model.ProviderEvent) string {
	if p := ev.Metadata[model.MetaPhase]; p != "" {
		return p
	}
	if recurringMeta(ev.Metadata) {
		return model.PhaseRenewal
	}
	// No phase and not recurring: the safest reading is a trial
	// checkout that saved no method. The trial is granted, nothing
	// is scheduled to renew.
	return model.PhaseTrialTokenless
}

// recurringMeta reads the provider's recurring flag. The provider sends
// "1"; links created by older bot builds carry "true".
func recurringMeta(m map[string]string) bool {
	v := m[model.MetaRecurring]
	return v == "1" || v == "true"
}

func metaInt64(m map[string]string, key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
