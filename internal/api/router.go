package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ridewatch/transit-alerts/internal/alert"
	"github.com/ridewatch/transit-alerts/internal/auth"
	"github.com/ridewatch/transit-alerts/internal/notify"
	"github.com/ridewatch/transit-alerts/internal/store"
	ws "github.com/ridewatch/transit-alerts/internal/websocket"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(svc *alert.Service, pgStore *store.PostgresStore, dispatcher *notify.Dispatcher, verifier *auth.Verifier, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Use(corsMiddleware)

	subHandler := NewSubscriptionHandler(svc)
	predHandler := NewPredictionHandler(svc)
	notifHandler := NewNotificationHandler(pgStore)
	statsHandler := NewStatsHandler(pgStore, dispatcher, hub)

	// WebSocket endpoint for the live alert feed
	r.Get("/ws", hub.HandleWebSocket)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		// The email opt-out link carries no bearer token.
		r.Post("/unsubscribe", subHandler.UnsubscribeByEmail)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(verifier))

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", subHandler.Subscribe)
				r.Get("/", subHandler.Status)
				r.Put("/email", subHandler.UpdateEmail)
				r.Post("/confirm", subHandler.Confirm)
				r.Post("/unsubscribe", subHandler.Unsubscribe)
				r.Delete("/{route}", subHandler.Delete)
			})

			r.Get("/predictions/{route}/{stopID}", predHandler.Get)
			r.Post("/delays/{route}/check", predHandler.CheckDelay)
			r.Get("/routes/cancelled", predHandler.CancelledRoutes)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/attempts", notifHandler.ListAttempts)
			r.Get("/dead-letters", notifHandler.ListDeadLetters)
			r.Post("/dead-letters/{id}/resolve", notifHandler.ResolveDeadLetter)
		})

		r.Get("/stats", statsHandler.Stats)
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
