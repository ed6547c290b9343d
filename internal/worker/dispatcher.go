package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ridewatch/transit-alerts/internal/notify"
)

// Dispatcher continuously polls the Redis notification queue and hands
// ready jobs to the worker pool.
type Dispatcher struct {
	redisClient  *redis.Client
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewDispatcher(redisClient *redis.Client, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		redisClient:  redisClient,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("notification dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll fetches a batch of ready jobs, scored at or before now. A retried
// job carries a future score and stays invisible until its backoff expires.
func (d *Dispatcher) poll(ctx context.Context) {
	now := float64(time.Now().UnixMicro())

	results, err := d.redisClient.ZRangeByScoreWithScores(ctx, notify.NotificationQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: d.batchSize,
	}).Result()
	if err != nil {
		d.logger.Error("failed to poll notification queue", "error", err)
		return
	}

	for _, z := range results {
		member := z.Member.(string)

		// ZRem returning 0 means another dispatcher instance claimed it.
		removed, err := d.redisClient.ZRem(ctx, notify.NotificationQueueKey, member).Result()
		if err != nil {
			d.logger.Error("failed to claim notification job", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job notify.NotificationJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			d.logger.Error("failed to unmarshal notification job", "error", err)
			continue
		}

		d.pool.Submit(job)
	}
}
