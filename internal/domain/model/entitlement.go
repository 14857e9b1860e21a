package model

import "time"

type EntitlementKind string

const (
	EntitlementTrial EntitlementKind = "trial"
	EntitlementPaid  EntitlementKind = "paid"
	EntitlementGrace EntitlementKind = "grace"
	EntitlementNone  EntitlementKind = "none"
)

// Entitlement is the resolver's tagged answer to "may this user use
// the product now". Until is set for trial and paid; Fails for grace.
type Entitlement struct {
	Kind  EntitlementKind
	Until time.Time
	Fails int
}

func (e Entitlement) Allowed() bool { return e.Kind != EntitlementNone }

func NoEntitlement() Entitlement { return Entitlement{Kind: EntitlementNone} }
