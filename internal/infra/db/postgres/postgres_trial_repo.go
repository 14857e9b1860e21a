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

var _ repository.TrialRepository = (*trialRepo)(nil)

type trialRepo struct{ pool *pgxpool.Pool }

func NewTrialRepo(pool *pgxpool.Pool) *trialRepo {
	return &trialRepo{pool: pool}
}

func (r *trialRepo) Upsert(ctx context.Context, tx repository.Tx, userID int64, until, now time.Time) error {
	const q = `
INSERT INTO trials (user_id, trial_until, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET trial_until=EXCLUDED.trial_until;`
	_, err := execSQL(ctx, r.pool, tx, q, userID, until, now)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *trialRepo) FindByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Trial, error) {
	const q = `SELECT user_id, trial_until, created_at FROM trials WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	t := &model.Trial{}
	if err := row.Scan(&t.UserID, &t.TrialUntil, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return t, nil
}

func (r *trialRepo) ListCreatedSince(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]*model.Trial, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
SELECT user_id, trial_until, created_at
  FROM trials
 WHERE created_at >= $1
 ORDER BY created_at ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, since, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Trial
	for rows.Next() {
		t := &model.Trial{}
		if err := rows.Scan(&t.UserID, &t.TrialUntil, &t.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
