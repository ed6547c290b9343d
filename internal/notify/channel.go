package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ridewatch/transit-alerts/internal/domain"
	"github.com/ridewatch/transit-alerts/internal/metrics"
)

// NotificationQueueKey is the Redis sorted set holding queued notification
// jobs, scored by ready-time in unix microseconds.
const NotificationQueueKey = "notification_queue"

const arnPrefix = "arn:transit:alerts:binding/"

// NotificationJob is a single email notification waiting for a worker.
type NotificationJob struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Route      string `json:"route"`
	Subject    string `json:"subject"`
	Message    string `json:"message"`
	Attempt    int    `json:"attempt"`
	MaxRetries int    `json:"max_retries"`
}

// Enqueue schedules a job on the notification queue, ready at the given time.
func Enqueue(ctx context.Context, client *redis.Client, job NotificationJob, readyAt time.Time) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling notification job: %w", err)
	}
	err = client.ZAdd(ctx, NotificationQueueKey, redis.Z{
		Score:  float64(readyAt.UnixMicro()),
		Member: string(jobBytes),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing notification: %w", err)
	}
	return nil
}

// Dispatcher manages notification channel bindings in Redis and fans alert
// messages out to them.
//
// Each binding lives in a hash at binding:{arn} with secondary index sets
// bindings:email:{email} and bindings:route:{route}. The binding state
// machine is pending -> confirmed; removal is terminal, there is no
// re-activation of a removed binding.
type Dispatcher struct {
	client     *redis.Client
	logger     *slog.Logger
	maxRetries int
}

func NewDispatcher(client *redis.Client, maxRetries int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:     client,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

func bindingKey(arn string) string      { return "binding:" + arn }
func emailIndexKey(email string) string { return "bindings:email:" + email }
func routeIndexKey(route string) string { return "bindings:route:" + route }

// CreateBinding registers a new pending binding for the address and returns
// its ARN. The binding delivers nothing until confirmed.
func (d *Dispatcher) CreateBinding(ctx context.Context, email, userID, route string) (string, domain.ChannelStatus, error) {
	arn := arnPrefix + uuid.NewString()

	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, bindingKey(arn), map[string]any{
		"email":      email,
		"user_id":    userID,
		"route":      route,
		"status":     string(domain.ChannelPending),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.SAdd(ctx, emailIndexKey(email), arn)
	pipe.SAdd(ctx, routeIndexKey(route), arn)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", domain.ChannelNone, fmt.Errorf("creating channel binding: %w", err)
	}

	d.logger.Info("channel binding created", "arn", arn, "route", route)
	return arn, domain.ChannelPending, nil
}

// BindingStatus reports the current state of a binding.
func (d *Dispatcher) BindingStatus(ctx context.Context, arn string) (domain.ChannelStatus, error) {
	status, err := d.client.HGet(ctx, bindingKey(arn), "status").Result()
	if errors.Is(err, redis.Nil) {
		return domain.ChannelNone, domain.ErrNotFound
	}
	if err != nil {
		return domain.ChannelNone, fmt.Errorf("loading binding status: %w", err)
	}
	return domain.ChannelStatus(status), nil
}

// ConfirmBinding moves a pending binding to confirmed. Confirming an
// already-confirmed binding is a no-op.
func (d *Dispatcher) ConfirmBinding(ctx context.Context, arn string) error {
	exists, err := d.client.Exists(ctx, bindingKey(arn)).Result()
	if err != nil {
		return fmt.Errorf("checking binding: %w", err)
	}
	if exists == 0 {
		return domain.ErrNotFound
	}

	if err := d.client.HSet(ctx, bindingKey(arn), "status", string(domain.ChannelConfirmed)).Err(); err != nil {
		return fmt.Errorf("confirming binding: %w", err)
	}
	d.logger.Info("channel binding confirmed", "arn", arn)
	return nil
}

// RemoveBinding deletes a binding and its index entries.
func (d *Dispatcher) RemoveBinding(ctx context.Context, arn string) error {
	fields, err := d.client.HGetAll(ctx, bindingKey(arn)).Result()
	if err != nil {
		return fmt.Errorf("loading binding: %w", err)
	}
	if len(fields) == 0 {
		return domain.ErrNotFound
	}

	pipe := d.client.TxPipeline()
	pipe.Del(ctx, bindingKey(arn))
	pipe.SRem(ctx, emailIndexKey(fields["email"]), arn)
	pipe.SRem(ctx, routeIndexKey(fields["route"]), arn)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing binding: %w", err)
	}
	return nil
}

// RemoveBindingsByEmail drops every confirmed binding for the address and
// returns how many were removed. Pending bindings stay: until the address
// is confirmed there is nothing deliverable to opt out of.
func (d *Dispatcher) RemoveBindingsByEmail(ctx context.Context, email string) (int, error) {
	arns, err := d.client.SMembers(ctx, emailIndexKey(email)).Result()
	if err != nil {
		return 0, fmt.Errorf("listing bindings for email: %w", err)
	}

	removed := 0
	for _, arn := range arns {
		status, err := d.BindingStatus(ctx, arn)
		if errors.Is(err, domain.ErrNotFound) {
			// Stale index entry.
			d.client.SRem(ctx, emailIndexKey(email), arn)
			continue
		}
		if err != nil {
			return removed, err
		}
		if status != domain.ChannelConfirmed {
			continue
		}
		if err := d.RemoveBinding(ctx, arn); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return removed, err
		}
		removed++
	}

	d.logger.Info("bindings removed by email", "removed", removed)
	return removed, nil
}

// Publish fans a message out to every confirmed binding on the route,
// queuing one notification job per recipient.
func (d *Dispatcher) Publish(ctx context.Context, subject, message, route string) error {
	arns, err := d.client.SMembers(ctx, routeIndexKey(route)).Result()
	if err != nil {
		return fmt.Errorf("listing bindings for route: %w", err)
	}
	if len(arns) == 0 {
		d.logger.Info("no bindings for route, nothing to publish", "route", route)
		return nil
	}

	pipe := d.client.Pipeline()
	queued := 0
	now := time.Now()

	for _, arn := range arns {
		fields, err := d.client.HGetAll(ctx, bindingKey(arn)).Result()
		if err != nil {
			return fmt.Errorf("loading binding: %w", err)
		}
		if fields["status"] != string(domain.ChannelConfirmed) {
			continue
		}

		job := NotificationJob{
			UserID:     fields["user_id"],
			Email:      fields["email"],
			Route:      route,
			Subject:    subject,
			Message:    message,
			Attempt:    1,
			MaxRetries: d.maxRetries,
		}
		jobBytes, err := json.Marshal(job)
		if err != nil {
			d.logger.Error("failed to marshal notification job", "error", err, "arn", arn)
			continue
		}

		pipe.ZAdd(ctx, NotificationQueueKey, redis.Z{
			Score:  float64(now.UnixMicro()),
			Member: string(jobBytes),
		})
		queued++
	}

	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuing notifications: %w", err)
	}

	metrics.NotificationsQueued.Add(float64(queued))
	d.logger.Info("notifications queued",
		"route", route,
		"subject", subject,
		"recipients", queued,
	)
	return nil
}

// QueueDepth returns the number of jobs waiting in the notification queue.
func (d *Dispatcher) QueueDepth(ctx context.Context) (int64, error) {
	return d.client.ZCard(ctx, NotificationQueueKey).Result()
}
