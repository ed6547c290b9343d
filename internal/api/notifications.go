package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ridewatch/transit-alerts/internal/domain"
	"github.com/ridewatch/transit-alerts/internal/store"
)

type NotificationHandler struct {
	store *store.PostgresStore
}

func NewNotificationHandler(s *store.PostgresStore) *NotificationHandler {
	return &NotificationHandler{store: s}
}

func (h *NotificationHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	attempts, err := h.store.ListNotificationAttempts(r.Context(), q.Get("user_id"), q.Get("route"), q.Get("status"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notification attempts")
		return
	}

	respondJSON(w, http.StatusOK, attempts)
}

func (h *NotificationHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	resolved := q.Get("resolved") == "true"

	letters, err := h.store.ListDeadLetters(r.Context(), q.Get("user_id"), resolved, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	respondJSON(w, http.StatusOK, letters)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (h *NotificationHandler) ResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResolvedBy == "" {
		respondError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	if err := h.store.ResolveDeadLetter(r.Context(), id, req.ResolvedBy); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respondError(w, http.StatusNotFound, "dead letter not found or already resolved")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to resolve dead letter")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "resolved"})
}
