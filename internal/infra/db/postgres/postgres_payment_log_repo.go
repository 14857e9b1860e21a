package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/repository"
)

var _ repository.PaymentLogRepository = (*paymentLogRepo)(nil)

type paymentLogRepo struct{ pool *pgxpool.Pool }

func NewPaymentLogRepo(pool *pgxpool.Pool) *paymentLogRepo {
	return &paymentLogRepo{pool: pool}
}

func (r *paymentLogRepo) Upsert(ctx context.Context, tx repository.Tx, entry *model.PaymentLog) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return domain.ErrInvalidArgument
	}

	const q = `
INSERT INTO payment_log (
  payment_id, user_id, event, status, amount_value, amount_currency,
  plan_code, recurring, phase, metadata, raw_payload, processed_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULL,$12,$12)
ON CONFLICT (payment_id) DO UPDATE SET
  user_id=EXCLUDED.user_id,
  event=EXCLUDED.event,
  status=EXCLUDED.status,
  amount_value=EXCLUDED.amount_value,
  amount_currency=EXCLUDED.amount_currency,
  plan_code=EXCLUDED.plan_code,
  recurring=EXCLUDED.recurring,
  phase=EXCLUDED.phase,
  metadata=EXCLUDED.metadata,
  raw_payload=EXCLUDED.raw_payload,
  updated_at=$12;`

	_, err = execSQL(ctx, r.pool, tx, q,
		entry.PaymentID, entry.UserID, entry.Event, entry.Status,
		entry.Amount.Value, entry.Amount.Currency, entry.PlanCode,
		entry.Recurring, entry.Phase, meta, entry.RawPayload, entry.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentLogRepo) IsProcessed(ctx context.Context, tx repository.Tx, paymentID string) (bool, error) {
	const q = `SELECT processed_at IS NOT NULL FROM payment_log WHERE payment_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, paymentID)
	if err != nil {
		return false, err
	}
	var done bool
	if err := row.Scan(&done); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, domain.ErrReadDatabaseRow
	}
	return done, nil
}

func (r *paymentLogRepo) MarkProcessed(ctx context.Context, tx repository.Tx, paymentID string, at time.Time) error {
	const q = `UPDATE payment_log SET processed_at=$2, updated_at=$2 WHERE payment_id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, paymentID, at)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentLogRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.PaymentLog, error) {
	const q = `
SELECT payment_id, user_id, event, status, amount_value, amount_currency,
       plan_code, recurring, phase, metadata, raw_payload, processed_at, created_at, updated_at
  FROM payment_log WHERE payment_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, paymentID)
	if err != nil {
		return nil, err
	}
	p := &model.PaymentLog{}
	var meta []byte
	if err := row.Scan(&p.PaymentID, &p.UserID, &p.Event, &p.Status, &p.Amount.Value, &p.Amount.Currency,
		&p.PlanCode, &p.Recurring, &p.Phase, &meta, &p.RawPayload, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return p, nil
}
