package model

import (
	"strconv"

	"telegram-subscription-billing/internal/domain"
)

// PlanCode names a subscription product bound to a billing interval.
type PlanCode string

const (
	PlanMonthly    PlanCode = "1m"
	PlanQuarterly  PlanCode = "3m"
	PlanSemiAnnual PlanCode = "6m"
	PlanAnnual     PlanCode = "12m"
)

// Months returns the billing interval of the plan in calendar months.
func (c PlanCode) Months() int {
	switch c {
	case PlanMonthly:
		return 1
	case PlanQuarterly:
		return 3
	case PlanSemiAnnual:
		return 6
	case PlanAnnual:
		return 12
	}
	return 0
}

func (c PlanCode) Valid() bool { return c.Months() > 0 }

// ParsePlanCode normalizes a provider metadata value into a PlanCode.
// Empty input falls back to the monthly plan, matching provider defaults.
func ParsePlanCode(s string) (PlanCode, error) {
	if s == "" {
		return PlanMonthly, nil
	}
	c := PlanCode(s)
	if !c.Valid() {
		return "", domain.ErrInvalidArgument
	}
	return c, nil
}

// Amount is exact decimal money as the provider reports it.
type Amount struct {
	Value    string
	Currency string
}

func (a Amount) IsZero() bool { return a.Value == "" }

// Plan is a priced subscription product.
type Plan struct {
	Code   PlanCode
	Months int
	Price  Amount
}

// Label renders a human-facing plan name, e.g. "3 months".
func (p Plan) Label() string {
	if p.Months == 1 {
		return "1 month"
	}
	return strconv.Itoa(p.Months) + " months"
}
