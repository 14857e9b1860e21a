package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/repository"
)

var _ repository.ChargeAttemptRepository = (*chargeAttemptRepo)(nil)

type chargeAttemptRepo struct{ pool *pgxpool.Pool }

func NewChargeAttemptRepo(pool *pgxpool.Pool) *chargeAttemptRepo {
	return &chargeAttemptRepo{pool: pool}
}

const attemptColumns = ` id, subscription_id, user_id, payment_id, status, due_at, attempted_at`

func (r *chargeAttemptRepo) LinkPayment(ctx context.Context, tx repository.Tx, attemptID, paymentID string) (bool, error) {
	const q = `UPDATE charge_attempts SET payment_id=$2 WHERE id=$1 AND payment_id IS NULL;`
	cmd, err := execSQL(ctx, r.pool, tx, q, attemptID, paymentID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		if isUniqueViolation(err) {
			return false, domain.ErrAlreadyExists
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *chargeAttemptRepo) MarkStatusByPayment(ctx context.Context, tx repository.Tx, paymentID string, status model.ChargeAttemptStatus) (bool, error) {
	const q = `
UPDATE charge_attempts
   SET status=$2
 WHERE payment_id=$1
   AND status NOT IN ('succeeded','failed','canceled','expired');`
	cmd, err := execSQL(ctx, r.pool, tx, q, paymentID, status)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *chargeAttemptRepo) MarkLatestOpenBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string, status model.ChargeAttemptStatus) (bool, error) {
	const q = `
UPDATE charge_attempts
   SET status=$2
 WHERE id = (SELECT id FROM charge_attempts
              WHERE subscription_id=$1
                AND status NOT IN ('succeeded','failed','canceled','expired')
              ORDER BY attempted_at DESC
              LIMIT 1);`
	cmd, err := execSQL(ctx, r.pool, tx, q, subscriptionID, status)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *chargeAttemptRepo) FindOpenBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.ChargeAttempt, error) {
	q := `SELECT` + attemptColumns + `
  FROM charge_attempts
 WHERE subscription_id=$1 AND status='created'
 ORDER BY attempted_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, subscriptionID)
}

func (r *chargeAttemptRepo) FindByPayment(ctx context.Context, tx repository.Tx, paymentID string) (*model.ChargeAttempt, error) {
	q := `SELECT` + attemptColumns + ` FROM charge_attempts WHERE payment_id=$1;`
	return r.queryOne(ctx, tx, q, paymentID)
}

func (r *chargeAttemptRepo) CountAttemptsSince(ctx context.Context, tx repository.Tx, subscriptionID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM charge_attempts WHERE subscription_id=$1 AND attempted_at >= $2;`
	row, err := pickRow(ctx, r.pool, tx, q, subscriptionID, since)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *chargeAttemptRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) (*model.ChargeAttempt, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	a := &model.ChargeAttempt{}
	var status string
	if err := row.Scan(&a.ID, &a.SubscriptionID, &a.UserID, &a.PaymentID, &status, &a.DueAt, &a.AttemptedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	a.Status = model.ChargeAttemptStatus(status)
	return a, nil
}
