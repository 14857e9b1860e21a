// File: internal/infra/adapters/payment/yookassa_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/infra/metrics"

	"github.com/google/uuid"
)

var _ adapter.PaymentGateway = (*YooKassaGateway)(nil)

// Cancellation reasons that mean the checkout simply ran out of time.
var expiredReasons = map[string]bool{
	"expired_on_confirmation": true,
	"expired_on_capture":      true,
	"payment_expired":         true,
}

// Provider error codes that are policy refusals rather than outages.
var recurringRefusalCodes = map[string]bool{
	"payment_method_not_applicable": true,
	"permission_revoked":            true,
	"payment_method_inactive":       true,
}

// YooKassaGateway implements adapter.PaymentGateway over the YooKassa
// REST v3 payments API.
type YooKassaGateway struct {
	shopID    string
	secretKey string
	returnURL string
	baseURL   string
	client    *http.Client
}

func NewYooKassaGateway(cfg *config.ProviderConfig) (*YooKassaGateway, error) {
	if cfg.ShopID == "" || cfg.SecretKey == "" {
		return nil, errors.New("yookassa: shop id and secret key required")
	}
	return &YooKassaGateway{
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		returnURL: cfg.ReturnURL,
		baseURL:   "https://api.yookassa.ru/v3",
		client:    &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSec) * time.Second},
	}, nil
}

// SetEndpoint overrides the API base URL (tests, mock servers).
func (g *YooKassaGateway) SetEndpoint(baseURL string) { g.baseURL = baseURL }

func (g *YooKassaGateway) Name() string { return "yookassa" }

type apiAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type apiError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (g *YooKassaGateway) CreatePayLink(ctx context.Context, req adapter.CreatePayLinkRequest) (string, error) {
	payload := map[string]any{
		"amount":  apiAmount{Value: req.Amount.Value, Currency: req.Amount.Currency},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": g.returnURL,
		},
		"description":         req.Description,
		"save_payment_method": req.SaveMethod,
		"metadata":            req.Metadata,
	}
	if req.MethodKind != "" {
		payload["payment_method_data"] = map[string]string{"type": string(req.MethodKind)}
	}

	var out struct {
		ID           string `json:"id"`
		Confirmation struct {
			ConfirmationURL string `json:"confirmation_url"`
		} `json:"confirmation"`
	}
	if err := g.post(ctx, "create_pay_link", payload, &out); err != nil {
		return "", err
	}
	if out.Confirmation.ConfirmationURL == "" {
		return "", fmt.Errorf("yookassa: payment %s has no confirmation url", out.ID)
	}
	return out.Confirmation.ConfirmationURL, nil
}

func (g *YooKassaGateway) ChargeSavedMethod(ctx context.Context, req adapter.ChargeRequest) (string, error) {
	payload := map[string]any{
		"amount":            apiAmount{Value: req.Amount.Value, Currency: req.Amount.Currency},
		"capture":           true,
		"payment_method_id": req.MethodToken,
		"description":       req.Description,
		"metadata":          req.Metadata,
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := g.post(ctx, "charge_saved_method", payload, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("yookassa: charge response missing payment id")
	}
	return out.ID, nil
}

// post sends an authenticated idempotent request and decodes the reply.
func (g *YooKassaGateway) post(ctx context.Context, op string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.ObserveProviderCall(op, time.Since(start).Milliseconds(), err == nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: http %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		if recurringRefusalCodes[apiErr.Code] {
			return fmt.Errorf("%w: %s", domain.ErrRecurringUnavailable, apiErr.Code)
		}
		return fmt.Errorf("yookassa: http %d code=%s: %s", resp.StatusCode, apiErr.Code, apiErr.Description)
	}
	return json.Unmarshal(body, out)
}

// webhookBody mirrors the provider notification envelope.
type webhookBody struct {
	Event  string `json:"event"`
	Object struct {
		ID         string    `json:"id"`
		Status     string    `json:"status"`
		Amount     apiAmount `json:"amount"`
		CapturedAt string    `json:"captured_at"`
		// Metadata values may arrive as numbers; flattened to strings below.
		Metadata map[string]any `json:"metadata"`
		Method   *struct {
			ID    string `json:"id"`
			Type  string `json:"type"`
			Saved bool   `json:"saved"`
			Card  *struct {
				First6      string `json:"first6"`
				Last4       string `json:"last4"`
				ExpiryMonth string `json:"expiry_month"`
				ExpiryYear  string `json:"expiry_year"`
				CardType    string `json:"card_type"`
			} `json:"card"`
		} `json:"payment_method"`
		Cancellation *struct {
			Party  string `json:"party"`
			Reason string `json:"reason"`
		} `json:"cancellation_details"`
	} `json:"object"`
}

func (g *YooKassaGateway) ParseEvent(body []byte) (*model.ProviderEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if wb.Object.ID == "" || wb.Object.Status == "" {
		return nil, fmt.Errorf("%w: missing payment id or status", domain.ErrMalformedEvent)
	}

	status := wb.Object.Status
	switch status {
	case model.EventStatusPending, model.EventStatusWaiting, model.EventStatusSucceeded, model.EventStatusCanceled:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrMalformedEvent, status)
	}
	if status == model.EventStatusCanceled && wb.Object.Cancellation != nil && expiredReasons[wb.Object.Cancellation.Reason] {
		status = model.EventStatusExpired
	}

	ev := &model.ProviderEvent{
		Event:     wb.Event,
		PaymentID: wb.Object.ID,
		Status:    status,
		Amount:    model.Amount{Value: wb.Object.Amount.Value, Currency: wb.Object.Amount.Currency},
		Metadata:  flattenMetadata(wb.Object.Metadata),
		Raw:       body,
	}
	if wb.Object.CapturedAt != "" {
		if t, err := time.Parse(time.RFC3339, wb.Object.CapturedAt); err == nil {
			ev.CapturedAt = &t
		}
	}
	if pm := wb.Object.Method; pm != nil {
		m := &model.ProviderPaymentMethod{
			Token: pm.ID,
			Kind:  model.PaymentMethodKind(pm.Type),
			Saved: pm.Saved,
		}
		if pm.Card != nil {
			m.Brand = pm.Card.CardType
			m.First6 = pm.Card.First6
			m.Last4 = pm.Card.Last4
			fmt.Sscanf(pm.Card.ExpiryMonth, "%d", &m.ExpMonth)
			fmt.Sscanf(pm.Card.ExpiryYear, "%d", &m.ExpYear)
		}
		ev.Method = m
	}
	return ev, nil
}

func flattenMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = trimFloat(t)
		case bool:
			out[k] = fmt.Sprintf("%t", t)
		default:
			out[k] = fmt.Sprintf("%v", t)
		}
	}
	return out
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}
