package repository

import (
	"context"
	"time"

	"telegram-subscription-billing/internal/domain/model"
)

// ConsentRepository records user agreement acceptances.
type ConsentRepository interface {
	Save(ctx context.Context, tx Tx, rec *model.ConsentRecord) error
	Has(ctx context.Context, tx Tx, userID int64, kind model.ConsentKind) (bool, error)
	ListByUser(ctx context.Context, tx Tx, userID int64) ([]*model.ConsentRecord, error)
}

// FirstSeen pairs a user with the earliest event observed for them.
type FirstSeen struct {
	UserID  int64
	FirstAt time.Time
}

// EventLogRepository tracks bare user activity; its only billing role is
// the un-subscribed nurture baseline (earliest event per user).
type EventLogRepository interface {
	// Touch appends an activity event for the user.
	Touch(ctx context.Context, tx Tx, userID int64, kind string, at time.Time) error
	FirstSeenByUser(ctx context.Context, tx Tx, userID int64) (*time.Time, error)
	// ListNurtureCandidates returns first-seen rows for users who currently
	// hold neither an active trial nor an open paid window.
	ListNurtureCandidates(ctx context.Context, tx Tx, now time.Time, limit int) ([]FirstSeen, error)
}
