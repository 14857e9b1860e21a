// File: internal/infra/api/internal_api.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"telegram-subscription-billing/internal/domain"
	"telegram-subscription-billing/internal/domain/model"
	"telegram-subscription-billing/internal/infra/logging"
)

// The /internal routes are trusted: the bot process sits on the same
// network. They still validate input because user ids come from chat
// updates.

type entitlementResponse struct {
	Kind  string     `json:"kind"`
	Until *time.Time `json:"until,omitempty"`
	Fails int        `json:"fails,omitempty"`
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	ent, err := s.entitlementUC.Resolve(logging.WithUserID(r.Context(), userID), userID)
	if err != nil {
		s.internalError(w, err, "entitlement resolve failed")
		return
	}
	resp := entitlementResponse{Kind: string(ent.Kind), Fails: ent.Fails}
	if !ent.Until.IsZero() {
		resp.Until = &ent.Until
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFreePass(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	granted, err := s.entitlementUC.TryFreePass(r.Context(), userID)
	if err != nil {
		s.internalError(w, err, "free pass failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

type consentRequest struct {
	UserID int64  `json:"user_id"`
	Kind   string `json:"kind"`
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	kind := model.ConsentKind(req.Kind)
	if kind != model.ConsentTOS && kind != model.ConsentRecurring {
		http.Error(w, "unknown consent kind", http.StatusBadRequest)
		return
	}
	if err := s.consentUC.RecordConsent(r.Context(), req.UserID, kind); err != nil {
		s.internalError(w, err, "consent record failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutRequest struct {
	UserID     int64  `json:"user_id"`
	PlanCode   string `json:"plan_code"`
	MethodKind string `json:"method_kind,omitempty"`
}

func (s *Server) handleTrialCheckout(w http.ResponseWriter, r *http.Request) {
	req, plan, ok := decodeCheckout(w, r)
	if !ok {
		return
	}
	kind := model.PaymentMethodKind(req.MethodKind)
	if kind == "" {
		kind = model.PaymentMethodBankCard
	}
	url, err := s.checkoutUC.StartTrial(r.Context(), req.UserID, plan, kind)
	if err != nil {
		s.checkoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handlePurchaseCheckout(w http.ResponseWriter, r *http.Request) {
	req, plan, ok := decodeCheckout(w, r)
	if !ok {
		return
	}
	url, err := s.checkoutUC.StartPurchase(r.Context(), req.UserID, plan)
	if err != nil {
		s.checkoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	view, err := s.subUC.Account(r.Context(), userID)
	if err != nil {
		s.internalError(w, err, "account lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	n, err := s.subUC.Cancel(r.Context(), userID)
	if err != nil {
		s.internalError(w, err, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"canceled": n})
}

func (s *Server) handleDeleteMethods(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	n, err := s.subUC.DeletePaymentMethods(r.Context(), userID)
	if err != nil {
		s.internalError(w, err, "payment method delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func decodeCheckout(w http.ResponseWriter, r *http.Request) (checkoutRequest, model.PlanCode, bool) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return req, "", false
	}
	plan, err := model.ParsePlanCode(req.PlanCode)
	if err != nil {
		http.Error(w, "unknown plan code", http.StatusBadRequest)
		return req, "", false
	}
	return req, plan, true
}

func (s *Server) checkoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRecurringUnavailable):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "recurring_unavailable"})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		s.internalError(w, err, "checkout failed")
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error, msg string) {
	s.log.Error().Err(err).Msg(msg)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
