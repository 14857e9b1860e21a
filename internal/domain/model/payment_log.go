package model

import "time"

// PaymentLog is the append-then-update audit row for every provider
// event observed, keyed by the provider payment id. Normalized fields
// sit next to the raw payload so replays stay possible.
type PaymentLog struct {
	PaymentID   string
	UserID      int64
	Event       string
	Status      string
	Amount      Amount
	PlanCode    PlanCode
	Recurring   bool
	Phase       string
	Metadata    map[string]string
	RawPayload  []byte
	ProcessedAt *time.Time // marks terminal-event completion
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
