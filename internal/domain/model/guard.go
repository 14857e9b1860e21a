package model

import "time"

// GuardRules are the scheduler admission rules for recurring charges.
// They are evaluated both as SQL pre-filters when selecting due
// subscriptions and again under the row lock before an attempt row is
// created.
type GuardRules struct {
	// MinAttemptGap: no new attempt while the previous one is younger
	// than this.
	MinAttemptGap time.Duration
	// AttemptsPer24h: strictly fewer than this many attempts within
	// the trailing 24 hours.
	AttemptsPer24h int
	// FailCap: once consecutive failures reach this the subscription
	// is ineligible until a webhook success resets the counter.
	FailCap int
}

func DefaultGuardRules() GuardRules {
	return GuardRules{
		MinAttemptGap:  12 * time.Hour,
		AttemptsPer24h: 2,
		FailCap:        6,
	}
}
