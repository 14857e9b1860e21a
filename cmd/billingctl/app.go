// File: cmd/billingctl/app.go
package main

import (
	"context"
	"fmt"
	"time"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	"telegram-subscription-billing/internal/domain/ports/repository"
	payAdapters "telegram-subscription-billing/internal/infra/adapters/payment"
	tele "telegram-subscription-billing/internal/infra/adapters/telegram"
	pg "telegram-subscription-billing/internal/infra/db/postgres"
	"telegram-subscription-billing/internal/infra/logging"
	red "telegram-subscription-billing/internal/infra/redis"
	"telegram-subscription-billing/internal/usecase"
)

// engine is the CLI-side wiring of the billing engine.
type engine struct {
	clk       clock.Clock
	subUC     usecase.SubscriptionUseCase
	chargeUC  usecase.ChargeUseCase
	webhookUC usecase.WebhookUseCase
	paylog    repository.PaymentLogRepository
	dedup     adapter.DedupStore
	close     func()
}

// withApp wires the engine for one command and tears it down after.
func withApp(ctx context.Context, fn func(ctx context.Context, app *engine) error) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	clk, err := clock.NewSystem(cfg.Billing.DisplayTZ)
	if err != nil {
		return fmt.Errorf("display timezone: %w", err)
	}

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return fmt.Errorf("redis: %w", err)
	}

	txm := pg.NewTxManager(pool)
	subRepo := pg.NewSubscriptionRepo(pool, cfg.GuardRules())
	attemptRepo := pg.NewChargeAttemptRepo(pool)
	methodRepo := pg.NewPaymentMethodRepo(pool)
	paylogRepo := pg.NewPaymentLogRepo(pool)
	trialRepo := pg.NewTrialRepo(pool)

	dedup := red.NewDedup(redisClient, logger)
	paidCache := red.NewPaidCache(redisClient, 35*24*time.Hour)

	var gateway adapter.PaymentGateway
	if cfg.Provider.ShopID != "" {
		gateway, err = payAdapters.NewYooKassaGateway(&cfg.Provider)
		if err != nil {
			pool.Close()
			_ = redisClient.Close()
			return fmt.Errorf("payment gateway: %w", err)
		}
	} else {
		gateway = payAdapters.NewNoopPaymentGateway()
	}
	// Operator actions go straight to the ledger; chat noise is the
	// notification worker's job.
	bot := tele.NewNoopBotAdapter(logger)

	app := &engine{
		clk: clk,
		subUC: usecase.NewSubscriptionUseCase(
			txm, subRepo, methodRepo, trialRepo, paidCache, clk, logger),
		chargeUC: usecase.NewChargeUseCase(
			subRepo, attemptRepo, methodRepo, gateway, bot, clk, &cfg.Billing,
			cfg.Scheduler.BatchLimit, logger),
		webhookUC: usecase.NewWebhookUseCase(
			txm, subRepo, attemptRepo, methodRepo, paylogRepo, trialRepo,
			gateway, bot, dedup, paidCache, clk, &cfg.Billing,
			cfg.Provider.WebhookDedupTTL, logger),
		paylog: paylogRepo,
		dedup:  dedup,
		close: func() {
			pool.Close()
			_ = redisClient.Close()
		},
	}
	defer app.close()
	return fn(ctx, app)
}

func printAccount(app *engine, userID int64, view *usecase.AccountView) {
	fmt.Printf("user: %d\n", userID)
	if t := view.Trial; t != nil {
		fmt.Printf("trial: until %s\n", app.clk.ToDisplay(t.TrialUntil).Format(time.RFC3339))
	}
	if s := view.Subscription; s != nil {
		fmt.Printf("subscription: %s plan=%s status=%s fails=%d\n", s.ID, s.PlanCode, s.Status, s.ConsecutiveFailures)
		if s.NextChargeAt != nil {
			fmt.Printf("  next charge: %s\n", app.clk.ToDisplay(*s.NextChargeAt).Format(time.RFC3339))
		}
		if s.LastChargeAt != nil {
			fmt.Printf("  last charge: %s\n", app.clk.ToDisplay(*s.LastChargeAt).Format(time.RFC3339))
		}
	} else {
		fmt.Println("subscription: none")
	}
	for _, m := range view.Methods {
		fmt.Printf("method: %s %s *%s exp %02d/%d token=%s\n",
			m.Kind, m.Brand, m.Last4, m.ExpMonth, m.ExpYear,
			logging.Redact(m.ProviderToken, devMode))
	}
}
