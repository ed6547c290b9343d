package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	Env         string

	// Upstream transit API
	APIKey               string
	VehicleMonitoringURL string
	StopMonitoringURL    string
	UpstreamTimeout      time.Duration
	UpstreamRateLimit    int // requests per second per route, 0 disables
	MaxRetries           int
	RetryDelay           time.Duration
	Timezone             string

	// Alerting
	DelayThresholdMinutes int
	VehicleDelayThreshold int
	MaxSubscriptions      int

	// Notification delivery
	EmailGatewayURL string
	GatewaySecret   string
	NumWorkers      int

	// Auth
	JWKSURL     string
	JWTAudience string
	JWTIssuer   string
}

// Load reads configuration from the environment. A .env file is applied
// first when present so local runs don't need exported variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		Env:         getEnv("ENV", "production"),

		APIKey:               getEnv("MTA_API_KEY", ""),
		VehicleMonitoringURL: getEnv("VEHICLE_MONITORING_URL", "https://bustime.mta.info/api/siri/vehicle-monitoring.json"),
		StopMonitoringURL:    getEnv("STOP_MONITORING_URL", "https://bustime.mta.info/api/siri/stop-monitoring.json"),
		UpstreamTimeout:      getEnvDuration("UPSTREAM_TIMEOUT", 5*time.Second),
		UpstreamRateLimit:    getEnvInt("UPSTREAM_RATE_LIMIT", 10),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		RetryDelay:           getEnvDuration("RETRY_DELAY", 5*time.Second),
		Timezone:             getEnv("TIMEZONE", "America/New_York"),

		DelayThresholdMinutes: getEnvInt("DELAY_THRESHOLD_MINUTES", 4),
		VehicleDelayThreshold: getEnvInt("VEHICLE_DELAY_THRESHOLD", 5),
		MaxSubscriptions:      getEnvInt("MAX_SUBSCRIPTIONS", 5),

		EmailGatewayURL: getEnv("EMAIL_GATEWAY_URL", ""),
		GatewaySecret:   getEnv("GATEWAY_SECRET", ""),
		NumWorkers:      getEnvInt("NUM_WORKERS", 10),

		JWKSURL:     getEnv("JWKS_URL", ""),
		JWTAudience: getEnv("JWT_AUDIENCE", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.EmailGatewayURL == "" {
		return nil, fmt.Errorf("EMAIL_GATEWAY_URL is required")
	}
	if !cfg.DevMode() {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("MTA_API_KEY is required")
		}
		if cfg.JWKSURL == "" {
			return nil, fmt.Errorf("JWKS_URL is required")
		}
	}

	return cfg, nil
}

// DevMode reports whether auth and upstream credentials are bypassed.
func (c *Config) DevMode() bool {
	return c.Env == "dev"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Accept plain seconds as well as Go duration strings.
		if n, err := strconv.Atoi(val); err == nil {
			return time.Duration(n) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
