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

var _ repository.PaymentMethodRepository = (*paymentMethodRepo)(nil)

type paymentMethodRepo struct{ pool *pgxpool.Pool }

func NewPaymentMethodRepo(pool *pgxpool.Pool) *paymentMethodRepo {
	return &paymentMethodRepo{pool: pool}
}

const pmColumns = `
  id, user_id, provider, provider_pm_token, kind, brand, first6, last4,
  exp_month, exp_year, deleted_at, created_at, updated_at`

// UpsertFromProvider is keyed by (provider, provider token): token reuse
// revives a soft-deleted row and keeps its id; a token surfacing under a
// different account reassigns user_id so webhooks naming it still bind
// to the paying user.
func (r *paymentMethodRepo) UpsertFromProvider(ctx context.Context, tx repository.Tx, pm *model.PaymentMethod) (string, error) {
	const q = `
INSERT INTO payment_methods (
  id, user_id, provider, provider_pm_token, kind, brand, first6, last4,
  exp_month, exp_year, deleted_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,$11,$11)
ON CONFLICT (provider, provider_pm_token) DO UPDATE SET
  user_id=EXCLUDED.user_id,
  kind=EXCLUDED.kind,
  brand=EXCLUDED.brand,
  first6=EXCLUDED.first6,
  last4=EXCLUDED.last4,
  exp_month=EXCLUDED.exp_month,
  exp_year=EXCLUDED.exp_year,
  deleted_at=NULL,
  updated_at=$11
RETURNING id;`

	row, err := pickRow(ctx, r.pool, tx, q,
		pm.ID, pm.UserID, pm.Provider, pm.ProviderToken, pm.Kind, pm.Brand,
		pm.First6, pm.Last4, pm.ExpMonth, pm.ExpYear, pm.UpdatedAt)
	if err != nil {
		return "", err
	}
	var id string
	if err := row.Scan(&id); err != nil {
		return "", domain.ErrOperationFailed
	}
	return id, nil
}

func (r *paymentMethodRepo) SoftDeleteByUser(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (int, error) {
	const q = `
UPDATE payment_methods SET deleted_at=$2, updated_at=$2
 WHERE user_id=$1 AND deleted_at IS NULL;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, now)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return 0, err
		}
		return 0, domain.ErrOperationFailed
	}
	return int(cmd.RowsAffected()), nil
}

func (r *paymentMethodRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentMethod, error) {
	q := `SELECT` + pmColumns + ` FROM payment_methods WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentMethodRepo) FindByToken(ctx context.Context, tx repository.Tx, provider, token string) (*model.PaymentMethod, error) {
	q := `SELECT` + pmColumns + ` FROM payment_methods WHERE provider=$1 AND provider_pm_token=$2;`
	return r.queryOne(ctx, tx, q, provider, token)
}

func (r *paymentMethodRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.PaymentMethod, error) {
	q := `SELECT` + pmColumns + `
  FROM payment_methods
 WHERE user_id=$1 AND deleted_at IS NULL
 ORDER BY created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentMethod
	for rows.Next() {
		pm := &model.PaymentMethod{}
		var kind string
		if err := rows.Scan(&pm.ID, &pm.UserID, &pm.Provider, &pm.ProviderToken, &kind, &pm.Brand,
			&pm.First6, &pm.Last4, &pm.ExpMonth, &pm.ExpYear, &pm.DeletedAt, &pm.CreatedAt, &pm.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		pm.Kind = model.PaymentMethodKind(kind)
		out = append(out, pm)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *paymentMethodRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) (*model.PaymentMethod, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	pm := &model.PaymentMethod{}
	var kind string
	if err := row.Scan(&pm.ID, &pm.UserID, &pm.Provider, &pm.ProviderToken, &kind, &pm.Brand,
		&pm.First6, &pm.Last4, &pm.ExpMonth, &pm.ExpYear, &pm.DeletedAt, &pm.CreatedAt, &pm.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	pm.Kind = model.PaymentMethodKind(kind)
	return pm, nil
}
