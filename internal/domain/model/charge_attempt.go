package model

import "time"

type ChargeAttemptStatus string

const (
	ChargeAttemptCreated   ChargeAttemptStatus = "created"
	ChargeAttemptSucceeded ChargeAttemptStatus = "succeeded"
	ChargeAttemptFailed    ChargeAttemptStatus = "failed"
	ChargeAttemptCanceled  ChargeAttemptStatus = "canceled"
	ChargeAttemptExpired   ChargeAttemptStatus = "expired"
)

// Terminal reports whether the status ends the attempt's lifecycle.
func (s ChargeAttemptStatus) Terminal() bool {
	switch s {
	case ChargeAttemptSucceeded, ChargeAttemptFailed, ChargeAttemptCanceled, ChargeAttemptExpired:
		return true
	}
	return false
}

// ChargeAttempt records one provider invocation for a recurring charge.
// PaymentID stays nil until the provider returns one; when set it is
// globally unique.
type ChargeAttempt struct {
	ID             string // ULID
	SubscriptionID string
	UserID         int64
	PaymentID      *string
	Status         ChargeAttemptStatus
	DueAt          time.Time
	AttemptedAt    time.Time
}
