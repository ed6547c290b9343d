package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ridewatch/transit-alerts/internal/alert"
)

type SubscriptionHandler struct {
	svc *alert.Service
}

func NewSubscriptionHandler(svc *alert.Service) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc}
}

type subscribeRequest struct {
	Route  string `json:"route"`
	StopID string `json:"stop_id"`
	Email  string `json:"email"`
}

func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		req.Email = claims.Email
	}

	res, err := h.svc.Subscribe(r.Context(), claims.Subject, req.Route, req.StopID, req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.svc.GetStatus(r.Context(), claims.Subject)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

type updateEmailRequest struct {
	Email string `json:"email"`
}

func (h *SubscriptionHandler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := h.svc.UpdateEmail(r.Context(), claims.Subject, req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	route := chi.URLParam(r, "route")
	if err := h.svc.DeleteSubscription(r.Context(), claims.Subject, route); err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.svc.Unsubscribe(r.Context(), claims.Subject)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

type confirmRequest struct {
	Arn string `json:"arn"`
}

func (h *SubscriptionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.ConfirmChannel(r.Context(), claims.Subject, req.Arn); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "channel confirmed"})
}

type unsubscribeByEmailRequest struct {
	Email string `json:"email"`
}

// UnsubscribeByEmail serves the opt-out link in notification emails, so it
// carries no bearer token.
func (h *SubscriptionHandler) UnsubscribeByEmail(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeByEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.UnsubscribeByEmail(r.Context(), req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}
