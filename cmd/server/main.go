package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ridewatch/transit-alerts/internal/alert"
	"github.com/ridewatch/transit-alerts/internal/api"
	"github.com/ridewatch/transit-alerts/internal/auth"
	"github.com/ridewatch/transit-alerts/internal/config"
	"github.com/ridewatch/transit-alerts/internal/notify"
	"github.com/ridewatch/transit-alerts/internal/store"
	"github.com/ridewatch/transit-alerts/internal/upstream"
	"github.com/ridewatch/transit-alerts/internal/websocket"
	"github.com/ridewatch/transit-alerts/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Upstream transit client
	retry := upstream.DefaultRetryPolicy(cfg.MaxRetries, cfg.RetryDelay)
	var clientOpts []upstream.ClientOption
	if cfg.UpstreamRateLimit > 0 {
		rl := upstream.NewRateLimiter(redisStore.Client(), logger)
		clientOpts = append(clientOpts, upstream.WithRateLimiter(rl, cfg.UpstreamRateLimit))
	}
	transit := upstream.NewClient(
		cfg.APIKey,
		cfg.VehicleMonitoringURL,
		cfg.StopMonitoringURL,
		cfg.UpstreamTimeout,
		retry,
		logger,
		clientOpts...,
	)

	// Auth
	var verifierOpts []auth.VerifierOption
	if cfg.DevMode() {
		verifierOpts = append(verifierOpts, auth.WithDevMode())
		logger.Warn("dev mode enabled, bearer tokens are not verified")
	}
	keyCache := auth.NewKeyCache(auth.FetchJWKS(cfg.JWKSURL, &http.Client{Timeout: 10 * time.Second}))
	verifier := auth.NewVerifier(keyCache, cfg.JWTAudience, cfg.JWTIssuer, verifierOpts...)

	// Notification pipeline
	hub := websocket.NewHub(logger)
	go hub.Run()

	channelDispatcher := notify.NewDispatcher(redisStore.Client(), cfg.MaxRetries, logger)
	sender := worker.NewSender(cfg.EmailGatewayURL, cfg.GatewaySecret, cfg.RetryDelay, redisStore.Client(), pgStore, logger)
	pool := worker.NewPool(cfg.NumWorkers, sender, logger)
	queueDispatcher := worker.NewDispatcher(redisStore.Client(), pool, logger)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	pool.Start(workerCtx)
	go queueDispatcher.Start(workerCtx)

	svc := alert.NewService(pgStore, transit, channelDispatcher, alert.Settings{
		MaxSubscriptions:      cfg.MaxSubscriptions,
		DelayThresholdMinutes: cfg.DelayThresholdMinutes,
		VehicleDelayThreshold: cfg.VehicleDelayThreshold,
		Location:              loc,
	}, logger, alert.WithFeed(hub))

	router := api.NewRouter(svc, pgStore, channelDispatcher, verifier, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	stopWorkers()
	pool.Stop()

	logger.Info("server stopped")
}
