package repository

import (
	"context"
	"time"

	"telegram-subscription-billing/internal/domain/model"
)

// PaymentLogRepository is the append-then-update audit port.
type PaymentLogRepository interface {
	Upsert(ctx context.Context, tx Tx, entry *model.PaymentLog) error
	IsProcessed(ctx context.Context, tx Tx, paymentID string) (bool, error)
	MarkProcessed(ctx context.Context, tx Tx, paymentID string, at time.Time) error
	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.PaymentLog, error)
}
