// File: internal/usecase/checkout_uc.go
package usecase

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

type CheckoutUseCase interface {
	// StartTrial issues a pay link for the tokenization charge that
	// opens a trial. Requires prior TOS and recurring consent; method
	// kinds that cannot produce a recurring token are refused with
	// domain.ErrRecurringUnavailable.
	StartTrial(ctx context.Context, userID int64, planCode model.PlanCode, methodKind model.PaymentMethodKind) (string, error)

	// StartPurchase issues a full-price pay link for a plan.
	StartPurchase(ctx context.Context, userID int64, planCode model.PlanCode) (string, error)
}

// recurringCapable lists method kinds the provider can tokenize.
var recurringCapable = map[model.PaymentMethodKind]bool{
	model.PaymentMethodBankCard: true,
}

type checkoutUC struct {
	consents repository.ConsentRepository
	events   repository.EventLogRepository
	gateway  adapter.PaymentGateway
	catalog  *Catalog
	clk      clock.Clock
	cfg      *config.BillingConfig
	log      *zerolog.Logger
}

func NewCheckoutUseCase(
	consents repository.ConsentRepository,
	events repository.EventLogRepository,
	gateway adapter.PaymentGateway,
	catalog *Catalog,
	clk clock.Clock,
	cfg *config.BillingConfig,
	logger *zerolog.Logger,
) *checkoutUC {
	l := logger.With().Str("component", "checkout_uc").Logger()
	return &checkoutUC{
		consents: consents,
		events:   events,
		gateway:  gateway,
		catalog:  catalog,
		clk:      clk,
		cfg:      cfg,
		log:      &l,
	}
}

func (u *checkoutUC) StartTrial(ctx context.Context, userID int64, planCode model.PlanCode, methodKind model.PaymentMethodKind) (string, error) {
	if !recurringCapable[methodKind] {
		return "", fmt.Errorf("%w: %s cannot be saved for renewals", domain.ErrRecurringUnavailable, methodKind)
	}
	if err := u.requireConsents(ctx, userID, model.ConsentTOS, model.ConsentRecurring); err != nil {
		return "", err
	}
	plan, err := u.catalog.Plan(planCode)
	if err != nil {
		return "", err
	}
	amount, err := u.catalog.TrialAmount(planCode)
	if err != nil {
		return "", err
	}

	url, err := u.gateway.CreatePayLink(ctx, adapter.CreatePayLinkRequest{
		UserID:      userID,
		Amount:      amount,
		Description: fmt.Sprintf("Trial (%d hours), then %s", u.cfg.TrialHoursDefault, plan.Label()),
		SaveMethod:  true,
		MethodKind:  methodKind,
		Metadata: map[string]string{
			model.MetaUserID:     strconv.FormatInt(userID, 10),
			model.MetaPlanCode:   string(plan.Code),
			model.MetaMonths:     strconv.Itoa(plan.Months),
			model.MetaPhase:      model.PhaseTrial,
			model.MetaTrialHours: strconv.Itoa(u.cfg.TrialHoursDefault),
		},
	})
	if err != nil {
		return "", err
	}
	u.touch(ctx, userID, "checkout_trial")
	return url, nil
}

func (u *checkoutUC) StartPurchase(ctx context.Context, userID int64, planCode model.PlanCode) (string, error) {
	if err := u.requireConsents(ctx, userID, model.ConsentTOS); err != nil {
		return "", err
	}
	plan, err := u.catalog.Plan(planCode)
	if err != nil {
		return "", err
	}

	// Saving the method is requested but optional here; purchases
	// without a token simply never renew.
	url, err := u.gateway.CreatePayLink(ctx, adapter.CreatePayLinkRequest{
		UserID:      userID,
		Amount:      plan.Price,
		Description: "Subscription, " + plan.Label(),
		SaveMethod:  true,
		Metadata: map[string]string{
			model.MetaUserID:   strconv.FormatInt(userID, 10),
			model.MetaPlanCode: string(plan.Code),
			model.MetaMonths:   strconv.Itoa(plan.Months),
			model.MetaPhase:    model.PhasePurchase,
		},
	})
	if err != nil {
		return "", err
	}
	u.touch(ctx, userID, "checkout_purchase")
	return url, nil
}

func (u *checkoutUC) requireConsents(ctx context.Context, userID int64, kinds ...model.ConsentKind) error {
	for _, kind := range kinds {
		ok, err := u.consents.Has(ctx, repository.NoTX, userID, kind)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: consent %q missing", domain.ErrInvalidArgument, kind)
		}
	}
	return nil
}

func (u *checkoutUC) touch(ctx context.Context, userID int64, kind string) {
	if err := u.events.Touch(ctx, repository.NoTX, userID, kind, u.clk.Now()); err != nil {
		u.log.Warn().Err(err).Int64("user_id", userID).Msg("event touch failed")
	}
}
