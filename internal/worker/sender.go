package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ridewatch/transit-alerts/internal/metrics"
	"github.com/ridewatch/transit-alerts/internal/notify"
	"github.com/ridewatch/transit-alerts/internal/store"
)

// AttemptStore records notification outcomes for the audit trail.
type AttemptStore interface {
	RecordNotificationAttempt(ctx context.Context, rec store.NotificationAttemptRecord) error
	RecordDeadLetter(ctx context.Context, rec store.DeadLetterRecord) error
}

// Sender delivers one notification job to the email gateway over HTTP.
// Failed jobs go back on the queue with a delayed score until the retry
// budget runs out, then land in the dead letter table.
type Sender struct {
	httpClient  *http.Client
	gatewayURL  string
	secret      string
	retryDelay  time.Duration
	redisClient *redis.Client
	attempts    AttemptStore
	logger      *slog.Logger
}

func NewSender(gatewayURL, secret string, retryDelay time.Duration, redisClient *redis.Client, attempts AttemptStore, logger *slog.Logger) *Sender {
	return &Sender{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		gatewayURL:  gatewayURL,
		secret:      secret,
		retryDelay:  retryDelay,
		redisClient: redisClient,
		attempts:    attempts,
		logger:      logger,
	}
}

type gatewayPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	Route   string `json:"route"`
	UserID  string `json:"user_id"`
}

// Send posts the notification to the gateway, signing the body with
// HMAC-SHA256, and records the attempt.
func (s *Sender) Send(ctx context.Context, job notify.NotificationJob) {
	start := time.Now()

	payload, err := json.Marshal(gatewayPayload{
		To:      job.Email,
		Subject: job.Subject,
		Message: job.Message,
		Route:   job.Route,
		UserID:  job.UserID,
	})
	if err != nil {
		s.recordAttempt(ctx, job, start, nil, fmt.Sprintf("failed to marshal payload: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		s.recordAttempt(ctx, job, start, nil, fmt.Sprintf("failed to create request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-Signature", computeHMAC(payload, s.secret))
	req.Header.Set("X-Notification-Attempt", fmt.Sprintf("%d", job.Attempt))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.recordAttempt(ctx, job, start, nil, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	s.recordAttempt(ctx, job, start, &resp.StatusCode, "")
}

func (s *Sender) recordAttempt(ctx context.Context, job notify.NotificationJob, start time.Time, statusCode *int, errMsg string) {
	elapsed := int(time.Since(start).Milliseconds())

	status := "success"
	if errMsg != "" || (statusCode != nil && *statusCode >= 400) {
		status = "failed"
		if errMsg == "" {
			errMsg = fmt.Sprintf("gateway returned status %d", *statusCode)
		}
	}

	err := s.attempts.RecordNotificationAttempt(ctx, store.NotificationAttemptRecord{
		UserID:         job.UserID,
		Route:          job.Route,
		Subject:        job.Subject,
		AttemptNumber:  job.Attempt,
		Status:         status,
		HTTPStatusCode: statusCode,
		ResponseTimeMs: elapsed,
		ErrorMessage:   errMsg,
	})
	if err != nil {
		s.logger.Error("failed to record notification attempt",
			"error", err,
			"user_id", job.UserID,
			"route", job.Route,
		)
	}

	if status == "success" {
		metrics.NotificationsSent.Inc()
		s.logger.Info("notification sent",
			"user_id", job.UserID,
			"route", job.Route,
			"attempt", job.Attempt,
			"response_time_ms", elapsed,
		)
		return
	}

	s.logger.Warn("notification failed",
		"user_id", job.UserID,
		"route", job.Route,
		"attempt", job.Attempt,
		"error", errMsg,
	)
	s.retryOrBury(ctx, job, errMsg)
}

// retryOrBury requeues the job with a delayed score, or writes a dead
// letter once the retry budget is spent.
func (s *Sender) retryOrBury(ctx context.Context, job notify.NotificationJob, errMsg string) {
	if job.Attempt >= job.MaxRetries {
		metrics.NotificationsFailed.Inc()
		err := s.attempts.RecordDeadLetter(ctx, store.DeadLetterRecord{
			UserID:        job.UserID,
			Route:         job.Route,
			Subject:       job.Subject,
			TotalAttempts: job.Attempt,
			LastError:     errMsg,
		})
		if err != nil {
			s.logger.Error("failed to record dead letter",
				"error", err,
				"user_id", job.UserID,
				"route", job.Route,
			)
		}
		s.logger.Error("notification exhausted retries",
			"user_id", job.UserID,
			"route", job.Route,
			"attempts", job.Attempt,
		)
		return
	}

	job.Attempt++
	readyAt := time.Now().Add(s.retryDelay)
	if err := notify.Enqueue(ctx, s.redisClient, job, readyAt); err != nil {
		s.logger.Error("failed to requeue notification",
			"error", err,
			"user_id", job.UserID,
			"route", job.Route,
		)
	}
}

// computeHMAC generates an HMAC-SHA256 signature for the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
