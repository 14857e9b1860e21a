// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// AccountView is the admin/bot-facing snapshot of one user's billing
// state.
type AccountView struct {
	Subscription *model.Subscription
	Trial        *model.Trial
	Methods      []*model.PaymentMethod
}

type SubscriptionUseCase interface {
	// Cancel turns off renewals for the user: clears the payment method
	// link and the next charge. Paid-through access already granted is
	// not revoked.
	Cancel(ctx context.Context, userID int64) (int, error)

	// DeletePaymentMethods soft-deletes every saved method of the user
	// and detaches them from subscriptions, atomically. Renewals stop
	// until a new method is saved.
	DeletePaymentMethods(ctx context.Context, userID int64) (int, error)

	Account(ctx context.Context, userID int64) (*AccountView, error)
}

type subscriptionUC struct {
	txm       repository.TransactionManager
	subs      repository.SubscriptionRepository
	methods   repository.PaymentMethodRepository
	trials    repository.TrialRepository
	paidCache adapter.PaidThroughCache
	clk       clock.Clock
	log       *zerolog.Logger
}

func NewSubscriptionUseCase(
	txm repository.TransactionManager,
	subs repository.SubscriptionRepository,
	methods repository.PaymentMethodRepository,
	trials repository.TrialRepository,
	paidCache adapter.PaidThroughCache,
	clk clock.Clock,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "subscription_uc").Logger()
	return &subscriptionUC{
		txm:       txm,
		subs:      subs,
		methods:   methods,
		trials:    trials,
		paidCache: paidCache,
		clk:       clk,
		log:       &l,
	}
}

func (u *subscriptionUC) Cancel(ctx context.Context, userID int64) (int, error) {
	n, err := u.subs.CancelForUser(ctx, repository.NoTX, userID, u.clk.Now())
	if err != nil {
		return 0, err
	}
	if cerr := u.paidCache.Invalidate(ctx, userID); cerr != nil {
		u.log.Warn().Err(cerr).Int64("user_id", userID).Msg("paid cache invalidate failed")
	}
	u.log.Info().Int64("user_id", userID).Int("canceled", n).Msg("subscription canceled")
	return n, nil
}

func (u *subscriptionUC) DeletePaymentMethods(ctx context.Context, userID int64) (int, error) {
	now := u.clk.Now()
	var deleted int
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		n, err := u.methods.SoftDeleteByUser(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		deleted = n
		_, err = u.subs.DetachPaymentMethods(ctx, tx, userID, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	u.log.Info().Int64("user_id", userID).Int("deleted", deleted).Msg("payment methods deleted")
	return deleted, nil
}

func (u *subscriptionUC) Account(ctx context.Context, userID int64) (*AccountView, error) {
	view := &AccountView{}

	sub, err := u.subs.FindActiveByUser(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	view.Subscription = sub

	trial, err := u.trials.FindByUser(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	view.Trial = trial

	methods, err := u.methods.ListActiveByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	view.Methods = methods
	return view, nil
}
