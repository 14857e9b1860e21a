package model

import "time"

type PaymentMethodKind string

const (
	PaymentMethodBankCard PaymentMethodKind = "bank_card"
	PaymentMethodSBP      PaymentMethodKind = "sbp"
)

// PaymentMethod is an opaque provider token with display metadata.
// The engine never stores card data; only the provider token plus
// display-only digits survive here.
type PaymentMethod struct {
	ID            string // ULID
	UserID        int64
	Provider      string
	ProviderToken string // unique per provider
	Kind          PaymentMethodKind
	Brand         string
	First6        string
	Last4         string
	ExpMonth      int
	ExpYear       int
	DeletedAt     *time.Time // soft delete so old webhooks stay interpretable
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (pm *PaymentMethod) Deleted() bool { return pm.DeletedAt != nil }
