package model

import (
	"time"

	"telegram-subscription-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription is one (user, plan lineage) recurring-billing record.
// Rows are never hard-deleted; cancellation clears the payment method
// and the next charge time and stamps CancelAt.
type Subscription struct {
	ID              string // ULID
	UserID          int64
	PlanCode        PlanCode
	IntervalMonths  int
	Price           Amount
	PaymentMethodID *string // nullable reference to payment_methods.id
	Status          SubscriptionStatus

	NextChargeAt        *time.Time
	LastChargeAt        *time.Time
	LastAttemptAt       *time.Time
	ConsecutiveFailures int
	LastFailNoticeAt    *time.Time
	CancelAt            *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// MethodToken and MethodKind are populated by due-subscription
	// queries joining the payment method row; they are not columns of
	// the subscriptions table.
	MethodToken string
	MethodKind  PaymentMethodKind
}

// NewSubscription builds an active subscription for a first successful
// charge of a plan.
func NewSubscription(id string, userID int64, plan Plan, paymentMethodID *string, nextChargeAt time.Time, now time.Time) (*Subscription, error) {
	if id == "" || userID == 0 || !plan.Code.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:              id,
		UserID:          userID,
		PlanCode:        plan.Code,
		IntervalMonths:  plan.Months,
		Price:           plan.Price,
		PaymentMethodID: paymentMethodID,
		Status:          SubscriptionStatusActive,
		NextChargeAt:    &nextChargeAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// PaidThrough reports whether the paid window is still open at now.
func (s *Subscription) PaidThrough(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.NextChargeAt != nil && s.NextChargeAt.After(now)
}

// InGrace reports whether the subscription is past its charge date but
// still within the retry allowance.
func (s *Subscription) InGrace(now time.Time, failThreshold int) bool {
	return s.Status == SubscriptionStatusActive &&
		s.NextChargeAt != nil && !s.NextChargeAt.After(now) &&
		s.ConsecutiveFailures < failThreshold
}
