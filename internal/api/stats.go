package api

import (
	"net/http"

	"github.com/ridewatch/transit-alerts/internal/notify"
	"github.com/ridewatch/transit-alerts/internal/store"
	ws "github.com/ridewatch/transit-alerts/internal/websocket"
)

type StatsHandler struct {
	store      *store.PostgresStore
	dispatcher *notify.Dispatcher
	hub        *ws.Hub
}

func NewStatsHandler(s *store.PostgresStore, dispatcher *notify.Dispatcher, hub *ws.Hub) *StatsHandler {
	return &StatsHandler{store: s, dispatcher: dispatcher, hub: hub}
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetNotificationStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to query stats")
		return
	}

	depth, err := h.dispatcher.QueueDepth(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to query queue depth")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"notifications":     stats,
		"queue_depth":       depth,
		"websocket_clients": h.hub.ClientCount(),
	})
}
