package adapter

import (
	"context"

	"telegram-subscription-billing/internal/domain/model"
)

// CreatePayLinkRequest describes an interactive checkout.
type CreatePayLinkRequest struct {
	UserID      int64
	Amount      model.Amount
	Description string
	Metadata    map[string]string
	// SaveMethod asks the provider to tokenize the method for recurring use.
	SaveMethod bool
	// MethodKind restricts the checkout to one method kind when set.
	MethodKind model.PaymentMethodKind
}

// ChargeRequest describes a server-to-server charge of a saved method.
type ChargeRequest struct {
	UserID      int64
	MethodToken string
	Amount      model.Amount
	Description string
	Metadata    map[string]string
}

// PaymentGateway is the hex port for the payment provider.
//
// Implementations must distinguish policy refusals (recurring disabled
// for a method kind and the like) from transport failures: the former
// surface as domain.ErrRecurringUnavailable so the scheduler can
// degrade gracefully, the latter as ordinary errors.
type PaymentGateway interface {
	Name() string

	// CreatePayLink initiates a checkout and returns the redirect URL.
	CreatePayLink(ctx context.Context, req CreatePayLinkRequest) (url string, err error)

	// ChargeSavedMethod issues a tokenized recurring charge and returns the
	// provider payment id. Success/cancellation still arrives via webhook.
	ChargeSavedMethod(ctx context.Context, req ChargeRequest) (paymentID string, err error)

	// ParseEvent normalizes a raw webhook body into the stable event shape.
	// Structural malformation surfaces as domain.ErrMalformedEvent.
	ParseEvent(body []byte) (*model.ProviderEvent, error)
}
