package model

import "time"

// Provider event statuses after normalization. waiting_for_capture is
// transitional; the other three are terminal.
const (
	EventStatusPending   = "pending"
	EventStatusWaiting   = "waiting_for_capture"
	EventStatusSucceeded = "succeeded"
	EventStatusCanceled  = "canceled"
	EventStatusExpired   = "expired"
)

// TerminalEventStatus reports whether a normalized provider status
// ends the payment's lifecycle.
func TerminalEventStatus(s string) bool {
	return s == EventStatusSucceeded || s == EventStatusCanceled || s == EventStatusExpired
}

// Metadata keys the engine reads from provider events.
const (
	MetaUserID         = "user_id"
	MetaPlanCode       = "plan_code"
	MetaMonths         = "months"
	MetaRecurring      = "is_recurring"
	MetaPhase          = "phase"
	MetaSubscriptionID = "subscription_id"
	MetaTrialHours     = "trial_hours"
)

// Payment phases carried in event metadata.
const (
	PhaseTrial          = "trial"
	PhaseRenewal        = "renewal"
	PhaseTrialTokenless = "trial_tokenless"
	PhasePurchase       = "purchase"
)

// ProviderPaymentMethod is the method block of a provider event.
type ProviderPaymentMethod struct {
	Token    string
	Kind     PaymentMethodKind
	Brand    string
	First6   string
	Last4    string
	ExpMonth int
	ExpYear  int
	Saved    bool
}

// ProviderEvent is a provider webhook normalized into a stable shape.
type ProviderEvent struct {
	Event      string
	PaymentID  string
	Status     string
	Amount     Amount
	CapturedAt *time.Time
	Metadata   map[string]string
	Method     *ProviderPaymentMethod
	Raw        []byte
}

func (e *ProviderEvent) Terminal() bool { return TerminalEventStatus(e.Status) }
