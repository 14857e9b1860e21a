package model

import "time"

// Trial is a time-limited entitlement granted on the first charge of a
// recurring token. One row per user.
type Trial struct {
	UserID     int64
	TrialUntil time.Time
	CreatedAt  time.Time
}

func (t *Trial) Active(now time.Time) bool { return t.TrialUntil.After(now) }
