package repository

import (
	"context"
	"time"

	"telegram-subscription-billing/internal/domain/model"
)

// PaymentMethodRepository is the ledger port for provider payment tokens.
type PaymentMethodRepository interface {
	// UpsertFromProvider upserts by (provider, provider token). Reuse of a
	// soft-deleted token clears deleted_at and preserves the row id; a token
	// reappearing under another account reassigns user_id. Returns the row id.
	UpsertFromProvider(ctx context.Context, tx Tx, pm *model.PaymentMethod) (string, error)

	// SoftDeleteByUser stamps deleted_at on all live rows of the user.
	SoftDeleteByUser(ctx context.Context, tx Tx, userID int64, now time.Time) (int, error)

	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentMethod, error)
	FindByToken(ctx context.Context, tx Tx, provider, token string) (*model.PaymentMethod, error)
	ListActiveByUser(ctx context.Context, tx Tx, userID int64) ([]*model.PaymentMethod, error)
}
