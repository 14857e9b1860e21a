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

var _ repository.EventLogRepository = (*eventLogRepo)(nil)

type eventLogRepo struct{ pool *pgxpool.Pool }

func NewEventLogRepo(pool *pgxpool.Pool) *eventLogRepo {
	return &eventLogRepo{pool: pool}
}

func (r *eventLogRepo) Touch(ctx context.Context, tx repository.Tx, userID int64, kind string, at time.Time) error {
	const q = `
INSERT INTO user_events (id, user_id, kind, created_at)
VALUES ($1, $2, $3, $4);`
	_, err := execSQL(ctx, r.pool, tx, q, model.NewID(), userID, kind, at)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *eventLogRepo) FirstSeenByUser(ctx context.Context, tx repository.Tx, userID int64) (*time.Time, error) {
	const q = `SELECT MIN(created_at) FROM user_events WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var first *time.Time
	if err := row.Scan(&first); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if first == nil {
		return nil, domain.ErrNotFound
	}
	return first, nil
}

// ListNurtureCandidates selects the first-seen instant for users who
// currently hold neither an active trial nor an open paid window.
func (r *eventLogRepo) ListNurtureCandidates(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]repository.FirstSeen, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
SELECT e.user_id, MIN(e.created_at) AS first_at
  FROM user_events e
 WHERE NOT EXISTS (SELECT 1 FROM trials t
                    WHERE t.user_id = e.user_id AND t.trial_until > $1)
   AND NOT EXISTS (SELECT 1 FROM subscriptions s
                    WHERE s.user_id = e.user_id AND s.status = 'active'
                      AND s.next_charge_at IS NOT NULL AND s.next_charge_at > $1)
 GROUP BY e.user_id
 ORDER BY first_at ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []repository.FirstSeen
	for rows.Next() {
		var fs repository.FirstSeen
		if err := rows.Scan(&fs.UserID, &fs.FirstAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
