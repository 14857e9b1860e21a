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

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool   *pgxpool.Pool
	guards model.GuardRules
}

func NewSubscriptionRepo(pool *pgxpool.Pool, guards model.GuardRules) *subscriptionRepo {
	if guards.FailCap <= 0 {
		guards = model.DefaultGuardRules()
	}
	return &subscriptionRepo{pool: pool, guards: guards}
}

const subColumns = `
  id, user_id, plan_code, interval_months, amount_value, amount_currency,
  payment_method_id, status, next_charge_at, last_charge_at, last_attempt_at,
  consecutive_failures, last_fail_notice_at, cancel_at, created_at, updated_at`

func (r *subscriptionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.Subscription, opts repository.UpsertOptions) (string, error) {
	// uq_subscriptions_one_active allows a single active row per user
	// while the conflict target below is (user_id, plan_code). A paid
	// plan switch must therefore retire the old plan first, or the
	// insert trips the partial index and the provider keeps retrying a
	// payment that can never land.
	if s.Status == model.SubscriptionStatusActive {
		const supersede = `
UPDATE subscriptions
   SET status='canceled', payment_method_id=NULL, next_charge_at=NULL,
       cancel_at=$3, updated_at=$3
 WHERE user_id=$1 AND status='active' AND plan_code<>$2;`
		if _, err := execSQL(ctx, r.pool, tx, supersede, s.UserID, s.PlanCode, s.UpdatedAt); err != nil {
			if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
				return "", err
			}
			return "", domain.ErrOperationFailed
		}
	}

	const q = `
INSERT INTO subscriptions (
  id, user_id, plan_code, interval_months, amount_value, amount_currency,
  payment_method_id, status, next_charge_at, last_charge_at, last_attempt_at,
  consecutive_failures, last_fail_notice_at, cancel_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
ON CONFLICT (user_id, plan_code) DO UPDATE SET
  interval_months=EXCLUDED.interval_months,
  amount_value=EXCLUDED.amount_value,
  amount_currency=EXCLUDED.amount_currency,
  payment_method_id=CASE
    WHEN $16 OR EXCLUDED.payment_method_id IS NOT NULL THEN EXCLUDED.payment_method_id
    ELSE subscriptions.payment_method_id
  END,
  status=EXCLUDED.status,
  next_charge_at=EXCLUDED.next_charge_at,
  consecutive_failures=EXCLUDED.consecutive_failures,
  cancel_at=EXCLUDED.cancel_at,
  updated_at=$15
RETURNING id;`

	row, err := pickRow(ctx, r.pool, tx, q,
		s.ID, s.UserID, s.PlanCode, s.IntervalMonths, s.Price.Value, s.Price.Currency,
		s.PaymentMethodID, s.Status, s.NextChargeAt, s.LastChargeAt, s.LastAttemptAt,
		s.ConsecutiveFailures, s.LastFailNoticeAt, s.CancelAt, s.UpdatedAt,
		opts.UpdatePaymentMethod)
	if err != nil {
		return "", err
	}
	var id string
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return "", domain.ErrAlreadyExists
		}
		return "", domain.ErrOperationFailed
	}
	return id, nil
}

func (r *subscriptionRepo) CancelForUser(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (int, error) {
	const q = `
UPDATE subscriptions
   SET status='canceled', payment_method_id=NULL, next_charge_at=NULL,
       cancel_at=$2, updated_at=$2
 WHERE user_id=$1 AND status='active';`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, now)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return 0, err
		}
		return 0, domain.ErrOperationFailed
	}
	return int(cmd.RowsAffected()), nil
}

func (r *subscriptionRepo) MarkChargedForUser(ctx context.Context, tx repository.Tx, userID int64, subscriptionID string, planCode model.PlanCode, now, nextChargeAt time.Time) (string, error) {
	var (
		q    string
		args []interface{}
	)
	if subscriptionID != "" {
		q = `
UPDATE subscriptions
   SET last_charge_at=$3, next_charge_at=$4, consecutive_failures=0, updated_at=$3
 WHERE id=$1 AND user_id=$2 AND status='active'
RETURNING id;`
		args = []interface{}{subscriptionID, userID, now, nextChargeAt}
	} else {
		q = `
UPDATE subscriptions
   SET last_charge_at=$3, next_charge_at=$4, consecutive_failures=0, updated_at=$3
 WHERE user_id=$1 AND plan_code=$2 AND status='active'
RETURNING id;`
		args = []interface{}{userID, planCode, now, nextChargeAt}
	}

	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return "", err
	}
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", domain.ErrReadDatabaseRow
	}
	return id, nil
}

// Retry guard rules as SQL pre-filters. The same predicates are
// re-evaluated under the row lock in PrechargeGuardAndAttempt.
const dueGuardsSQL = `
   AND (s.last_attempt_at IS NULL OR s.last_attempt_at <= $1 - ($2::int * INTERVAL '1 hour'))
   AND s.consecutive_failures < $3
   AND (SELECT COUNT(*) FROM charge_attempts a
         WHERE a.subscription_id = s.id AND a.attempted_at >= $1 - INTERVAL '24 hours') < $4
   AND (SELECT COUNT(*) FROM charge_attempts a
         WHERE a.subscription_id = s.id
           AND a.status IN ('failed','canceled','expired')
           AND a.attempted_at > COALESCE(
                 (SELECT MAX(a2.attempted_at) FROM charge_attempts a2
                   WHERE a2.subscription_id = s.id AND a2.status = 'succeeded'),
                 'epoch'::timestamptz)) < $3`

func (r *subscriptionRepo) FindDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT s.id, s.user_id, s.plan_code, s.interval_months, s.amount_value, s.amount_currency,
       s.payment_method_id, s.status, s.next_charge_at, s.last_charge_at, s.last_attempt_at,
       s.consecutive_failures, s.last_fail_notice_at, s.cancel_at, s.created_at, s.updated_at,
       pm.provider_pm_token, pm.kind
  FROM subscriptions s
  JOIN payment_methods pm ON pm.id = s.payment_method_id AND pm.deleted_at IS NULL
 WHERE s.status='active'
   AND s.payment_method_id IS NOT NULL
   AND s.next_charge_at IS NOT NULL AND s.next_charge_at <= $1` +
		dueGuardsSQL + `
 ORDER BY s.next_charge_at ASC
 LIMIT $5;`

	minGapHours := int(r.guards.MinAttemptGap / time.Hour)
	rows, err := queryRows(ctx, r.pool, tx, q, now, minGapHours, r.guards.FailCap, r.guards.AttemptsPer24h, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s := &model.Subscription{}
		var status, token, kind string
		if err := rows.Scan(&s.ID, &s.UserID, &s.PlanCode, &s.IntervalMonths, &s.Price.Value, &s.Price.Currency,
			&s.PaymentMethodID, &status, &s.NextChargeAt, &s.LastChargeAt, &s.LastAttemptAt,
			&s.ConsecutiveFailures, &s.LastFailNoticeAt, &s.CancelAt, &s.CreatedAt, &s.UpdatedAt,
			&token, &kind); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		s.Status = model.SubscriptionStatus(status)
		s.MethodToken = token
		s.MethodKind = model.PaymentMethodKind(kind)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// PrechargeGuardAndAttempt locks the subscription row, re-checks the
// guards, and when they hold creates the pending attempt and stamps
// last_attempt_at -- all in one transaction, so concurrent schedulers
// cannot double-book the same due window.
func (r *subscriptionRepo) PrechargeGuardAndAttempt(ctx context.Context, subscriptionID string, userID int64, now time.Time) (string, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", domain.ErrOperationFailed
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `
SELECT s.next_charge_at
  FROM subscriptions s
 WHERE s.id=$5 AND s.user_id=$6 AND s.status='active'
   AND s.payment_method_id IS NOT NULL
   AND s.next_charge_at IS NOT NULL AND s.next_charge_at <= $1` +
		dueGuardsSQL + `
 FOR UPDATE OF s;`

	minGapHours := int(r.guards.MinAttemptGap / time.Hour)
	var dueAt time.Time
	err = tx.QueryRow(ctx, q, now, minGapHours, r.guards.FailCap, r.guards.AttemptsPer24h, subscriptionID, userID).Scan(&dueAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrGuardDenied
		}
		return "", domain.ErrOperationFailed
	}

	attemptID := model.NewID()
	const insQ = `
INSERT INTO charge_attempts (id, subscription_id, user_id, payment_id, status, due_at, attempted_at)
VALUES ($1, $2, $3, NULL, 'created', $4, $5);`
	if _, err := tx.Exec(ctx, insQ, attemptID, subscriptionID, userID, dueAt, now); err != nil {
		return "", domain.ErrOperationFailed
	}
	const updQ = `UPDATE subscriptions SET last_attempt_at=$2, updated_at=$2 WHERE id=$1;`
	if _, err := tx.Exec(ctx, updQ, subscriptionID, now); err != nil {
		return "", domain.ErrOperationFailed
	}

	if err := tx.Commit(ctx); err != nil {
		return "", domain.ErrOperationFailed
	}
	return attemptID, nil
}

// RegisterFailure bumps consecutive_failures under a row lock, capped at
// the guard fail cap, and advances last_fail_notice_at when the throttle
// window has elapsed.
func (r *subscriptionRepo) RegisterFailure(ctx context.Context, subscriptionID string, now time.Time, noticeGap time.Duration) (int, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, false, domain.ErrOperationFailed
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		fails      int
		lastNotice *time.Time
	)
	const selQ = `
SELECT consecutive_failures, last_fail_notice_at
  FROM subscriptions WHERE id=$1 FOR UPDATE;`
	if err := tx.QueryRow(ctx, selQ, subscriptionID).Scan(&fails, &lastNotice); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, domain.ErrNotFound
		}
		return 0, false, domain.ErrReadDatabaseRow
	}

	if fails < r.guards.FailCap {
		fails++
	}
	notify := lastNotice == nil || !lastNotice.After(now.Add(-noticeGap))
	if notify {
		const updQ = `
UPDATE subscriptions SET consecutive_failures=$2, last_fail_notice_at=$3, updated_at=$3 WHERE id=$1;`
		if _, err := tx.Exec(ctx, updQ, subscriptionID, fails, now); err != nil {
			return 0, false, domain.ErrOperationFailed
		}
	} else {
		const updQ = `
UPDATE subscriptions SET consecutive_failures=$2, updated_at=$3 WHERE id=$1;`
		if _, err := tx.Exec(ctx, updQ, subscriptionID, fails, now); err != nil {
			return 0, false, domain.ErrOperationFailed
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, domain.ErrOperationFailed
	}
	return fails, notify, nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT` + subColumns + ` FROM subscriptions WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	q := `SELECT` + subColumns + `
  FROM subscriptions
 WHERE user_id=$1 AND status='active'
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, userID)
}

func (r *subscriptionRepo) DetachPaymentMethods(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (int, error) {
	const q = `
UPDATE subscriptions s
   SET payment_method_id=NULL, updated_at=$2
 WHERE s.user_id=$1
   AND s.payment_method_id IS NOT NULL
   AND EXISTS (SELECT 1 FROM payment_methods pm
                WHERE pm.id = s.payment_method_id AND pm.deleted_at IS NOT NULL);`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, now)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return 0, err
		}
		return 0, domain.ErrOperationFailed
	}
	return int(cmd.RowsAffected()), nil
}

func (r *subscriptionRepo) ListActiveCreatedSince(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT` + subColumns + `
  FROM subscriptions
 WHERE status='active' AND created_at >= $1
 ORDER BY created_at ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, since, limit)
}

func (r *subscriptionRepo) ListUpcomingCharges(ctx context.Context, tx repository.Tx, now time.Time, within time.Duration, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT` + subColumns + `
  FROM subscriptions
 WHERE status='active'
   AND next_charge_at IS NOT NULL
   AND next_charge_at > $1 AND next_charge_at <= $2
 ORDER BY next_charge_at ASC
 LIMIT $3;`
	return r.queryMany(ctx, tx, q, now, now.Add(within), limit)
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	s := &model.Subscription{}
	var status string
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanCode, &s.IntervalMonths, &s.Price.Value, &s.Price.Currency,
		&s.PaymentMethodID, &status, &s.NextChargeAt, &s.LastChargeAt, &s.LastAttemptAt,
		&s.ConsecutiveFailures, &s.LastFailNoticeAt, &s.CancelAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.Status = model.SubscriptionStatus(status)
	return s, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s := &model.Subscription{}
		var status string
		if err := rows.Scan(&s.ID, &s.UserID, &s.PlanCode, &s.IntervalMonths, &s.Price.Value, &s.Price.Currency,
			&s.PaymentMethodID, &status, &s.NextChargeAt, &s.LastChargeAt, &s.LastAttemptAt,
			&s.ConsecutiveFailures, &s.LastFailNoticeAt, &s.CancelAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		s.Status = model.SubscriptionStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
