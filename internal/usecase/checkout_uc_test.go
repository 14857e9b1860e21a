//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/usecase"
)

type checkoutUCTestDeps struct {
	consents *MockConsentRepo
	events   *MockEventLogRepo
	gateway  *MockGateway
	uc       usecase.CheckoutUseCase
}

func newCheckoutUCDeps(t *testing.T, now time.Time) *checkoutUCTestDeps {
	t.Helper()
	catalog, err := usecase.NewCatalog(billingConfig())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	deps := &checkoutUCTestDeps{
		consents: NewMockConsentRepo(),
		events:   &MockEventLogRepo{},
		gateway:  &MockGateway{},
	}
	deps.uc = usecase.NewCheckoutUseCase(
		deps.consents, deps.events, deps.gateway, catalog,
		clock.NewFixed(now), billingConfig(), newTestLogger(),
	)
	return deps
}

func (d *checkoutUCTestDeps) grant(ctx context.Context, userID int64, kinds ...model.ConsentKind) {
	for _, k := range kinds {
		d.consents.Save(ctx, nil, &model.ConsentRecord{UserID: userID, Kind: k})
	}
}

func TestCheckoutUseCase_StartTrial(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("should issue a tokenizing pay link with trial metadata", func(t *testing.T) {
		// --- Arrange ---
		deps := newCheckoutUCDeps(t, now)
		deps.grant(ctx, 42, model.ConsentTOS, model.ConsentRecurring)

		// --- Act ---
		url, err := deps.uc.StartTrial(ctx, 42, model.PlanMonthly, model.PaymentMethodBankCard)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if url == "" {
			t.Fatal("expected a pay link")
		}
		if len(deps.gateway.Links) != 1 {
			t.Fatalf("expected one provider call, got %d", len(deps.gateway.Links))
		}
		req := deps.gateway.Links[0]
		if !req.SaveMethod {
			t.Error("the trial charge exists to tokenize the method")
		}
		if req.Amount.Value != "1.00" {
			t.Errorf("the trial charges the symbolic amount, got %s", req.Amount.Value)
		}
		if req.Metadata["phase"] != "trial" || req.Metadata["trial_hours"] != "72" {
			t.Errorf("trial metadata missing: %v", req.Metadata)
		}
		if req.Metadata["user_id"] != "42" || req.Metadata["plan_code"] != "1m" {
			t.Errorf("routing metadata missing: %v", req.Metadata)
		}
	})

	t.Run("should refuse method kinds that cannot renew", func(t *testing.T) {
		deps := newCheckoutUCDeps(t, now)
		deps.grant(ctx, 42, model.ConsentTOS, model.ConsentRecurring)

		_, err := deps.uc.StartTrial(ctx, 42, model.PlanMonthly, model.PaymentMethodSBP)

		if !errors.Is(err, domain.ErrRecurringUnavailable) {
			t.Fatalf("expected ErrRecurringUnavailable, got: %v", err)
		}
		if len(deps.gateway.Links) != 0 {
			t.Error("a doomed checkout must not reach the provider")
		}
	})

	t.Run("should demand both consents before charging anything", func(t *testing.T) {
		deps := newCheckoutUCDeps(t, now)
		deps.grant(ctx, 42, model.ConsentTOS) // recurring consent missing

		_, err := deps.uc.StartTrial(ctx, 42, model.PlanMonthly, model.PaymentMethodBankCard)

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got: %v", err)
		}
		if !strings.Contains(err.Error(), "recurring") {
			t.Errorf("the error should name the missing consent, got: %v", err)
		}
	})

	t.Run("should reject plans outside the catalog", func(t *testing.T) {
		deps := newCheckoutUCDeps(t, now)
		deps.grant(ctx, 42, model.ConsentTOS, model.ConsentRecurring)

		// 6m is a valid code but not configured in the test tariffs.
		_, err := deps.uc.StartTrial(ctx, 42, model.PlanSemiAnnual, model.PaymentMethodBankCard)

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got: %v", err)
		}
	})
}

func TestCheckoutUseCase_StartPurchase(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("should issue a full-price pay link", func(t *testing.T) {
		// --- Arrange ---
		deps := newCheckoutUCDeps(t, now)
		deps.grant(ctx, 42, model.ConsentTOS)

		// --- Act ---
		url, err := deps.uc.StartPurchase(ctx, 42, model.PlanQuarterly)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if url == "" {
			t.Fatal("expected a pay link")
		}
		req := deps.gateway.Links[0]
		if req.Amount.Value != "799.00" || req.Amount.Currency != "RUB" {
			t.Errorf("expected the 3m tariff price, got %+v", req.Amount)
		}
		if req.Metadata["phase"] != "purchase" || req.Metadata["months"] != "3" {
			t.Errorf("purchase metadata missing: %v", req.Metadata)
		}
	})

	t.Run("should only need the terms consent", func(t *testing.T) {
		deps := newCheckoutUCDeps(t, now)

		_, err := deps.uc.StartPurchase(ctx, 42, model.PlanMonthly)

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument without TOS, got: %v", err)
		}

		deps.grant(ctx, 42, model.ConsentTOS)
		if _, err := deps.uc.StartPurchase(ctx, 42, model.PlanMonthly); err != nil {
			t.Fatalf("TOS alone should unlock purchases, got: %v", err)
		}
	})
}
