package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/repository"
)

var _ repository.ConsentRepository = (*consentRepo)(nil)

type consentRepo struct{ pool *pgxpool.Pool }

func NewConsentRepo(pool *pgxpool.Pool) *consentRepo {
	return &consentRepo{pool: pool}
}

func (r *consentRepo) Save(ctx context.Context, tx repository.Tx, rec *model.ConsentRecord) error {
	// The UNIQUE constraint on (user_id, kind) keeps the earliest
	// acceptance; re-accepting is a no-op.
	const q = `
INSERT INTO consents (user_id, kind, agreement_ref, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, kind) DO NOTHING;`
	_, err := execSQL(ctx, r.pool, tx, q, rec.UserID, rec.Kind, rec.AgreementRef, rec.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *consentRepo) Has(ctx context.Context, tx repository.Tx, userID int64, kind model.ConsentKind) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM consents WHERE user_id=$1 AND kind=$2);`
	row, err := pickRow(ctx, r.pool, tx, q, userID, kind)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *consentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.ConsentRecord, error) {
	const q = `
SELECT user_id, kind, agreement_ref, created_at
  FROM consents WHERE user_id=$1 ORDER BY created_at ASC;`
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

	var out []*model.ConsentRecord
	for rows.Next() {
		c := &model.ConsentRecord{}
		var kind string
		if err := rows.Scan(&c.UserID, &kind, &c.AgreementRef, &c.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrNotFound
			}
			return nil, domain.ErrReadDatabaseRow
		}
		c.Kind = model.ConsentKind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
