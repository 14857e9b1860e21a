package repository

import (
	"context"
	"time"

	"telegram-subscription-billing/internal/domain/model"
)

// ChargeAttemptRepository is the ledger port for recurring-charge attempts.
type ChargeAttemptRepository interface {
	// LinkPayment sets the provider payment id on an attempt. Tolerant of
	// not-found: returns false without error so callers can log and move on.
	LinkPayment(ctx context.Context, tx Tx, attemptID, paymentID string) (bool, error)

	// MarkStatusByPayment performs the terminal transition for the attempt
	// carrying this payment id. Returns false when no non-terminal attempt
	// matched.
	MarkStatusByPayment(ctx context.Context, tx Tx, paymentID string, status model.ChargeAttemptStatus) (bool, error)

	// MarkLatestOpenBySubscription targets the latest non-terminal attempt
	// of the subscription instead; used as the fallback when the payment id
	// never reached the ledger.
	MarkLatestOpenBySubscription(ctx context.Context, tx Tx, subscriptionID string, status model.ChargeAttemptStatus) (bool, error)

	// FindOpenBySubscription returns the latest created attempt, if any.
	FindOpenBySubscription(ctx context.Context, tx Tx, subscriptionID string) (*model.ChargeAttempt, error)

	FindByPayment(ctx context.Context, tx Tx, paymentID string) (*model.ChargeAttempt, error)

	// CountAttemptsSince counts attempts of the subscription stamped at or
	// after the cutoff (per-day attempt cap evidence for tests and tooling).
	CountAttemptsSince(ctx context.Context, tx Tx, subscriptionID string, since time.Time) (int, error)
}
