package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ridewatch/transit-alerts/internal/alert"
	"github.com/ridewatch/transit-alerts/internal/domain"
)

type PredictionHandler struct {
	svc *alert.Service
}

func NewPredictionHandler(svc *alert.Service) *PredictionHandler {
	return &PredictionHandler{svc: svc}
}

// predictionResponse is the rider-facing view of a prediction. Unknown
// optional fields render as "N/A" rather than being omitted.
type predictionResponse struct {
	Route       string `json:"route"`
	StopID      string `json:"stop_id"`
	ArrivalTime string `json:"arrival_time"`
	MinutesAway string `json:"minutes_away"`
	StopsAway   string `json:"stops_away"`
	Distance    string `json:"distance"`
}

func formatPrediction(p *domain.Prediction) predictionResponse {
	resp := predictionResponse{
		Route:       p.Route,
		StopID:      p.StopID,
		ArrivalTime: p.ArrivalTime.Format("15:04:05"),
		MinutesAway: fmt.Sprintf("%d minutes", p.MinutesAway),
		StopsAway:   "N/A",
		Distance:    "N/A",
	}
	if p.StopsAway != nil {
		resp.StopsAway = fmt.Sprintf("%d stops away", *p.StopsAway)
	}
	if p.DistanceMiles != nil {
		resp.Distance = fmt.Sprintf("%.1f miles away", *p.DistanceMiles)
	}
	return resp
}

func (h *PredictionHandler) Get(w http.ResponseWriter, r *http.Request) {
	route := chi.URLParam(r, "route")
	stopID := chi.URLParam(r, "stopID")

	p, err := h.svc.GetPrediction(r.Context(), route, stopID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, formatPrediction(p))
}

func (h *PredictionHandler) CheckDelay(w http.ResponseWriter, r *http.Request) {
	route := chi.URLParam(r, "route")

	res, err := h.svc.CheckDelay(r.Context(), route)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

func (h *PredictionHandler) CancelledRoutes(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetCancelledRoutes(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}
