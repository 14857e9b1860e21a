package model

import "time"

type ConsentKind string

const (
	ConsentTOS       ConsentKind = "tos"
	ConsentRecurring ConsentKind = "recurring"
)

// ConsentRecord is a timestamped (user, kind) acceptance record.
// AgreementRef points at the recurring-billing agreement version the
// user accepted.
type ConsentRecord struct {
	UserID       int64
	Kind         ConsentKind
	AgreementRef string
	CreatedAt    time.Time
}
