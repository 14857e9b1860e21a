// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"telegram-subscription-billing/internal/clock"
	"telegram-subscription-billing/internal/config"
	"telegram-subscription-billing/internal/domain/ports/adapter"
	payAdapters "telegram-subscription-billing/internal/infra/adapters/payment"
	tele "telegram-subscription-billing/internal/infra/adapters/telegram"
	"telegram-subscription-billing/internal/infra/api"
	pg "telegram-subscription-billing/internal/infra/db/postgres"
	"telegram-subscription-billing/internal/infra/logging"
	"telegram-subscription-billing/internal/infra/metrics"
	red "telegram-subscription-billing/internal/infra/redis"
	"telegram-subscription-billing/internal/infra/sched"
	"telegram-subscription-billing/internal/infra/worker"
	"telegram-subscription-billing/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: noop adapters when credentials are missing")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	clk, err := clock.NewSystem(cfg.Billing.DisplayTZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.Billing.DisplayTZ).Msg("display timezone")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	txm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	dedup := red.NewDedup(redisClient, logger)
	quota := red.NewQuota(redisClient, clk)
	paidCache := red.NewPaidCache(redisClient, 35*24*time.Hour)

	// ---- Repositories ----
	guards := cfg.GuardRules()
	subRepo := pg.NewSubscriptionRepo(pool, guards)
	attemptRepo := pg.NewChargeAttemptRepo(pool)
	methodRepo := pg.NewPaymentMethodRepo(pool)
	paylogRepo := pg.NewPaymentLogRepo(pool)
	trialRepo := pg.NewTrialRepo(pool)
	consentRepo := pg.NewConsentRepo(pool)
	eventRepo := pg.NewEventLogRepo(pool)

	// ---- Adapters ----
	var gateway adapter.PaymentGateway
	if cfg.Provider.ShopID != "" {
		gateway, err = payAdapters.NewYooKassaGateway(&cfg.Provider)
		if err != nil {
			logger.Fatal().Err(err).Msg("payment gateway")
		}
	} else if cfg.Runtime.Dev {
		logger.Warn().Msg("no provider credentials, using noop gateway")
		gateway = payAdapters.NewNoopPaymentGateway()
	} else {
		logger.Fatal().Msg("provider.shop_id is required outside dev mode")
	}

	var bot adapter.TelegramBotAdapter
	if cfg.Bot.Token != "" {
		bot, err = tele.NewRealBotAdapter(&cfg.Bot)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram")
		}
	} else if cfg.Runtime.Dev {
		logger.Warn().Msg("no bot token, using noop bot")
		bot = tele.NewNoopBotAdapter(logger)
	} else {
		logger.Fatal().Msg("bot.token is required outside dev mode")
	}

	// ---- Use cases ----
	catalog, err := usecase.NewCatalog(&cfg.Billing)
	if err != nil {
		logger.Fatal().Err(err).Msg("tariff catalog")
	}
	webhookUC := usecase.NewWebhookUseCase(
		txm, subRepo, attemptRepo, methodRepo, paylogRepo, trialRepo,
		gateway, bot, dedup, paidCache, clk, &cfg.Billing,
		cfg.Provider.WebhookDedupTTL, logger)
	chargeUC := usecase.NewChargeUseCase(
		subRepo, attemptRepo, methodRepo, gateway, bot, clk, &cfg.Billing,
		cfg.Scheduler.BatchLimit, logger)
	notifyUC := usecase.NewNotificationUseCase(
		subRepo, trialRepo, eventRepo, bot, dedup, clk, &cfg.Billing,
		cfg.Scheduler.BatchLimit, logger)
	entitlementUC := usecase.NewEntitlementUseCase(
		trialRepo, subRepo, paidCache, quota, clk, &cfg.Billing, logger)
	consentUC := usecase.NewConsentUseCase(
		consentRepo, eventRepo, clk, cfg.Billing.RecurringAgreementRef, logger)
	checkoutUC := usecase.NewCheckoutUseCase(
		consentRepo, eventRepo, gateway, catalog, clk, &cfg.Billing, logger)
	subUC := usecase.NewSubscriptionUseCase(
		txm, subRepo, methodRepo, trialRepo, paidCache, clk, logger)

	// ---- Workers ----
	pool2 := worker.NewPool(cfg.Scheduler.Workers, logger)
	pool2.Start(ctx)
	defer pool2.Stop()

	chargeWorker := sched.NewChargeWorker(
		time.Duration(cfg.Scheduler.PeriodSec)*time.Second, chargeUC, pool2, logger)
	go chargeWorker.Start(ctx)

	notifyWorker := sched.NewNotificationWorker(
		time.Duration(cfg.Scheduler.NotifyTickSec)*time.Second, notifyUC, pool2, logger)
	go notifyWorker.Start(ctx)

	// ---- HTTP ----
	srv := api.NewServer(webhookUC, entitlementUC, checkoutUC, consentUC, subUC, cfg.Bot.Username, logger)
	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("http listening")
		if err := srv.ListenAndServe(ctx, cfg.HTTP.Port); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
}
