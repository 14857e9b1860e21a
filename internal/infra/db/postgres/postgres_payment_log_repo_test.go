//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/repository"
)

func TestPaymentLogRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewPaymentLogRepo(testPool)

	entry := func(paymentID, status string) *model.PaymentLog {
		return &model.PaymentLog{
			PaymentID:  paymentID,
			UserID:     42,
			Event:      "payment." + status,
			Status:     status,
			Amount:     model.Amount{Value: "299.00", Currency: "RUB"},
			PlanCode:   model.PlanMonthly,
			Recurring:  true,
			Phase:      "renewal",
			Metadata:   map[string]string{"user_id": "42"},
			RawPayload: []byte(`{"object":{"id":"` + paymentID + `"}}`),
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
	}

	t.Run("should keep processed_at across audit updates", func(t *testing.T) {
		cleanup(t)
		if err := repo.Upsert(ctx, repository.NoTX, entry("pay-1", "pending")); err != nil {
			t.Fatalf("first upsert failed: %v", err)
		}
		processedAt := time.Now()
		if err := repo.MarkProcessed(ctx, repository.NoTX, "pay-1", processedAt); err != nil {
			t.Fatalf("MarkProcessed failed: %v", err)
		}

		// A replayed event updates the audit fields only.
		if err := repo.Upsert(ctx, repository.NoTX, entry("pay-1", "succeeded")); err != nil {
			t.Fatalf("replay upsert failed: %v", err)
		}

		stored, err := repo.FindByPaymentID(ctx, repository.NoTX, "pay-1")
		if err != nil {
			t.Fatal(err)
		}
		if stored.Status != "succeeded" {
			t.Errorf("status: got %s", stored.Status)
		}
		if stored.ProcessedAt == nil {
			t.Fatal("processed_at must survive the replay")
		}
		if stored.Metadata["user_id"] != "42" {
			t.Errorf("metadata round-trip: %+v", stored.Metadata)
		}

		done, err := repo.IsProcessed(ctx, repository.NoTX, "pay-1")
		if err != nil || !done {
			t.Fatalf("IsProcessed: done=%v err=%v", done, err)
		}
	})

	t.Run("should report unknown payments as unprocessed", func(t *testing.T) {
		cleanup(t)
		done, err := repo.IsProcessed(ctx, repository.NoTX, "pay-missing")
		if err != nil {
			t.Fatal(err)
		}
		if done {
			t.Fatal("an absent row is not processed")
		}
	})
}
