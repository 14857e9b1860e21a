// File: cmd/e2e-setup/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"

	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/domain/ports/repository"
	"telegram-subscription-billing/internal/infra/db/postgres"
	"telegram-subscription-billing/internal/infra/redis"
)

// Test fixture users.
const (
	userFresh   int64 = 100001 // no billing state, nurture candidate
	userTrial   int64 = 100002 // active trial with saved card
	userDue     int64 = 100003 // active subscription past its charge date
	userFailing int64 = 100004 // subscription with accumulated failures
)

// This script sets up a clean, predictable database state for manual
// end-to-end testing against a local Postgres and Redis.
func main() {
	ctx := context.Background()
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schemaPath := flag.String("schema", "migrations/0001_init.sql", "schema file to apply")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 5)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	log.Println("[1/4] Wiping Redis...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	log.Println("[2/4] Applying schema...")
	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		log.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	log.Println("[3/4] Wiping existing data...")
	_, err = pool.Exec(ctx, `
		TRUNCATE
			charge_attempts, subscriptions, payment_methods, payment_log,
			trials, consents, user_events
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	log.Println("[4/4] Seeding fixture users...")
	seedFixtures(ctx, pool, cfg)

	log.Println("--- E2E Environment Setup Complete ---")
}

func seedFixtures(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config) {
	now := time.Now().UTC()

	methodRepo := postgres.NewPaymentMethodRepo(pool)
	subRepo := postgres.NewSubscriptionRepo(pool, cfg.GuardRules())
	trialRepo := postgres.NewTrialRepo(pool)
	consentRepo := postgres.NewConsentRepo(pool)
	eventRepo := postgres.NewEventLogRepo(pool)

	must := func(err error) {
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
	}

	// Fresh user: only an activity event, two days old.
	must(eventRepo.Touch(ctx, repository.NoTX, userFresh, "bot_start", now.Add(-48*time.Hour)))

	// Trial user: consents, saved card, trial ending in a day, renewal
	// scheduled at trial end.
	seedConsents(ctx, consentRepo, userTrial, now, must)
	trialCard := seedCard(ctx, methodRepo, userTrial, "e2e-token-trial", now, must)
	must(trialRepo.Upsert(ctx, repository.NoTX, userTrial, now.Add(24*time.Hour), now.Add(-48*time.Hour)))
	seedSubscription(ctx, subRepo, userTrial, trialCard, now.Add(24*time.Hour), 0, now, must)

	// Due user: subscription whose charge date passed an hour ago.
	seedConsents(ctx, consentRepo, userDue, now, must)
	dueCard := seedCard(ctx, methodRepo, userDue, "e2e-token-due", now, must)
	seedSubscription(ctx, subRepo, userDue, dueCard, now.Add(-time.Hour), 0, now, must)

	// Failing user: due subscription with two failures on record.
	seedConsents(ctx, consentRepo, userFailing, now, must)
	failCard := seedCard(ctx, methodRepo, userFailing, "e2e-token-failing", now, must)
	seedSubscription(ctx, subRepo, userFailing, failCard, now.Add(-72*time.Hour), 2, now, must)

	log.Printf("seeded users: fresh=%d trial=%d due=%d failing=%d", userFresh, userTrial, userDue, userFailing)
}

func seedConsents(ctx context.Context, repo repository.ConsentRepository, userID int64, now time.Time, must func(error)) {
	for _, kind := range []model.ConsentKind{model.ConsentTOS, model.ConsentRecurring} {
		must(repo.Save(ctx, repository.NoTX, &model.ConsentRecord{
			UserID:       userID,
			Kind:         kind,
			AgreementRef: "e2e",
			CreatedAt:    now.Add(-72 * time.Hour),
		}))
	}
}

func seedCard(ctx context.Context, repo repository.PaymentMethodRepository, userID int64, token string, now time.Time, must func(error)) string {
	id, err := repo.UpsertFromProvider(ctx, repository.NoTX, &model.PaymentMethod{
		ID:            model.NewID(),
		UserID:        userID,
		Provider:      "yookassa",
		ProviderToken: token,
		Kind:          model.PaymentMethodBankCard,
		Brand:         "MIR",
		First6:        "220000",
		Last4:         "0004",
		ExpMonth:      12,
		ExpYear:       2030,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	must(err)
	return id
}

func seedSubscription(ctx context.Context, repo repository.SubscriptionRepository, userID int64, methodID string, nextChargeAt time.Time, fails int, now time.Time, must func(error)) {
	sub, err := model.NewSubscription(model.NewID(), userID, model.Plan{
		Code:   model.PlanMonthly,
		Months: 1,
		Price:  model.Amount{Value: "299.00", Currency: "RUB"},
	}, &methodID, nextChargeAt, now.Add(-30*24*time.Hour))
	must(err)
	sub.ConsecutiveFailures = fails
	_, err = repo.Upsert(ctx, repository.NoTX, sub, repository.UpsertOptions{UpdatePaymentMethod: true})
	must(err)
}
