package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ridewatch/transit-alerts/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the service error taxonomy onto HTTP statuses.
// Anything outside the taxonomy is a 500 with a generic message; the
// details stay in the logs.
func respondServiceError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var cerr *domain.ChannelError

	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrLimitExceeded):
		respondError(w, http.StatusForbidden, "subscription limit reached")
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrNoData), errors.Is(err, domain.ErrNoArrivalTime):
		respondError(w, http.StatusNotFound, "no prediction data available")
	case errors.As(err, &cerr):
		respondError(w, http.StatusInternalServerError, "notification channel unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
