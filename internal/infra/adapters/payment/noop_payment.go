package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is a simple in-memory gateway to use in tests and
// local runs without provider credentials.
type NoopPaymentGateway struct {
	mu      sync.Mutex
	seq     int64
	charges map[string]adapter.ChargeRequest // payment id -> issued charge
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{charges: make(map[string]adapter.ChargeRequest)}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("noop-%d", g.seq)
}

func (g *NoopPaymentGateway) CreatePayLink(ctx context.Context, req adapter.CreatePayLinkRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return "https://example.test/pay/" + g.next(), nil
}

func (g *NoopPaymentGateway) ChargeSavedMethod(ctx context.Context, req adapter.ChargeRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	g.charges[id] = req
	return id, nil
}

// IssuedCharge returns the request recorded for a payment id.
func (g *NoopPaymentGateway) IssuedCharge(paymentID string) (adapter.ChargeRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.charges[paymentID]
	return req, ok
}

func (g *NoopPaymentGateway) ParseEvent(body []byte) (*model.ProviderEvent, error) {
	var ev model.ProviderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if ev.PaymentID == "" || ev.Status == "" {
		return nil, fmt.Errorf("%w: missing payment id or status", domain.ErrMalformedEvent)
	}
	ev.Raw = body
	return &ev, nil
}
