// File: internal/infra/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/infra/logging"
	"telegram-subscription-billing/internal/infra/metrics"
	"telegram-subscription-billing/internal/usecase"
)

const maxWebhookBody = 1 << 20

// Server exposes the provider webhook and the post-checkout return page
// to the outside, plus an internal API the bot process calls for
// entitlements, consents, checkouts, and account management.
type Server struct {
	webhookUC     usecase.WebhookUseCase
	entitlementUC usecase.EntitlementUseCase
	checkoutUC    usecase.CheckoutUseCase
	consentUC     usecase.ConsentUseCase
	subUC         usecase.SubscriptionUseCase
	botUsername   string
	log           *zerolog.Logger
}

func NewServer(
	webhookUC usecase.WebhookUseCase,
	entitlementUC usecase.EntitlementUseCase,
	checkoutUC usecase.CheckoutUseCase,
	consentUC usecase.ConsentUseCase,
	subUC usecase.SubscriptionUseCase,
	botUsername string,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "http").Logger()
	return &Server{
		webhookUC:     webhookUC,
		entitlementUC: entitlementUC,
		checkoutUC:    checkoutUC,
		consentUC:     consentUC,
		subUC:         subUC,
		botUsername:   botUsername,
		log:           &l,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/provider/webhook", s.handleWebhook)
	r.Get("/payment/return", s.handleReturn)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/internal", func(r chi.Router) {
		r.Get("/entitlement/{userID}", s.handleEntitlement)
		r.Post("/free-pass/{userID}", s.handleFreePass)
		r.Post("/consent", s.handleConsent)
		r.Post("/checkout/trial", s.handleTrialCheckout)
		r.Post("/checkout/purchase", s.handlePurchaseCheckout)
		r.Get("/account/{userID}", s.handleAccount)
		r.Post("/cancel/{userID}", s.handleCancel)
		r.Delete("/payment-methods/{userID}", s.handleDeleteMethods)
	})
	return r
}

// handleWebhook acknowledges with 200 once the event is safely absorbed.
// 400 goes out only for bodies that can never be parsed; anything
// retryable is a 500 so the provider redelivers.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()
	ctx = logging.WithTraceID(ctx, uuid.NewString())
	log := logging.With(ctx, s.log)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read error", http.StatusInternalServerError)
		return
	}

	res, err := s.webhookUC.HandleEvent(ctx, body)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			metrics.IncWebhookEvent("unknown", "malformed")
			log.Warn().Err(err).Msg("malformed webhook body")
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		metrics.IncWebhookEvent("unknown", "error")
		log.Error().Err(err).Msg("webhook processing failed")
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	metrics.IncWebhookEvent(res.Status, res.Outcome)
	if res.Outcome == usecase.WebhookOutcomeDuplicate {
		metrics.IncWebhookDuplicate()
	}
	log.Info().Str("payment_id", res.PaymentID).Str("status", res.Status).
		Str("outcome", res.Outcome).Msg("webhook handled")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReturn is where the provider redirects the user after checkout.
// The outcome itself arrives via webhook; this page only points back to
// the bot.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	s.renderHTML(w, http.StatusOK,
		"Payment accepted for processing. The bot will confirm the result in a moment.")
}

var page = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>Payment</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.btn{display:inline-block;margin-top:16px;padding:10px 16px;border-radius:8px;border:1px solid #888;text-decoration:none}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
  <h2>Thank you!</h2>
  <p>{{.Msg}}</p>
  {{if .BotUsername}}
    <a class="btn" href="https://t.me/{{.BotUsername}}">Back to Telegram</a>
    <div class="small">If this button doesn't open the chat, open Telegram and search for @{{.BotUsername}}.</div>
  {{end}}
</div>
</body>
</html>`))

func (s *Server) renderHTML(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	err := page.Execute(w, struct {
		Msg         string
		BotUsername string
	}{Msg: msg, BotUsername: s.botUsername})
	if err != nil {
		s.log.Warn().Err(err).Msg("return page render failed")
	}
}

// ListenAndServe runs the server until ctx is canceled, then drains.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
