package repository

import (
	"context"
	"time"

	"telegram-subscription-billing/internal/domain/model"
)

// TrialRepository stores the one-per-user free period.
type TrialRepository interface {
	// Upsert sets trial_until for the user, preserving created_at when the
	// row already exists.
	Upsert(ctx context.Context, tx Tx, userID int64, until, now time.Time) error
	FindByUser(ctx context.Context, tx Tx, userID int64) (*model.Trial, error)
	// ListCreatedSince feeds the trial-onboarding notification sweep.
	ListCreatedSince(ctx context.Context, tx Tx, since time.Time, limit int) ([]*model.Trial, error)
}
