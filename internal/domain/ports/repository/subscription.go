package repository

import (
	"context"
	"time"

	"telegram-subscription-billing/internal/domain/model"
)

// UpsertOptions steer how Upsert treats the payment method column.
type UpsertOptions struct {
	// UpdatePaymentMethod forces the payment_method_id column to be
	// overwritten even when the argument is nil.
	UpdatePaymentMethod bool
}

// SubscriptionRepository is the ledger port for subscriptions.
type SubscriptionRepository interface {
	// Upsert inserts or updates the (user_id, plan_code) row, preserving
	// created_at on update. An active row supersedes any other active
	// plan the user holds, so a plan switch cancels the old plan in the
	// same statement batch. Returns the subscription id.
	Upsert(ctx context.Context, tx Tx, s *model.Subscription, opts UpsertOptions) (string, error)

	// CancelForUser cancels every active row of the user: clears the
	// payment method and next charge, stamps cancel_at. Returns count.
	CancelForUser(ctx context.Context, tx Tx, userID int64, now time.Time) (int, error)

	// MarkChargedForUser records a successful charge: last_charge_at = now,
	// next_charge_at = nextChargeAt, consecutive_failures = 0. The target is
	// resolved by subscriptionID when given (must belong to the user and be
	// active) or by planCode fallback. Returns the subscription id, or
	// domain.ErrNotFound when no row qualifies.
	MarkChargedForUser(ctx context.Context, tx Tx, userID int64, subscriptionID string, planCode model.PlanCode, now, nextChargeAt time.Time) (string, error)

	// FindDue selects active subscriptions with a payment method whose
	// next_charge_at has passed, with the retry guard rules applied as SQL
	// pre-filters. MethodToken/MethodKind are populated on the results.
	FindDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)

	// PrechargeGuardAndAttempt re-evaluates the guards under a row lock
	// and, when they hold, inserts a created attempt and stamps
	// last_attempt_at. Returns the attempt id, or domain.ErrGuardDenied.
	PrechargeGuardAndAttempt(ctx context.Context, subscriptionID string, userID int64, now time.Time) (string, error)

	// RegisterFailure increments consecutive_failures (capped) inside a
	// row-locked transaction. notify is true when the failure notice
	// throttle window has elapsed and last_fail_notice_at was advanced.
	RegisterFailure(ctx context.Context, subscriptionID string, now time.Time, noticeGap time.Duration) (fails int, notify bool, err error)

	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindActiveByUser(ctx context.Context, tx Tx, userID int64) (*model.Subscription, error)

	// DetachPaymentMethods clears payment_method_id on subscriptions whose
	// method rows are soft-deleted. Rows stay active until grace expires.
	DetachPaymentMethods(ctx context.Context, tx Tx, userID int64, now time.Time) (int, error)

	// ListActiveCreatedSince feeds the paid-lifecycle notification sweep.
	ListActiveCreatedSince(ctx context.Context, tx Tx, since time.Time, limit int) ([]*model.Subscription, error)
	// ListUpcomingCharges returns active subscriptions whose next charge
	// falls inside (now, now+within].
	ListUpcomingCharges(ctx context.Context, tx Tx, now time.Time, within time.Duration, limit int) ([]*model.Subscription, error)
}
