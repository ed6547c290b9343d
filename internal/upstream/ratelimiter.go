package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter implements a per-route sliding window over the upstream API
// using Redis. Uses a sorted set where each member is a unique request ID
// with a timestamp score. A Lua script atomically cleans expired entries,
// checks the count, and adds new entries.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
}

// Lua script for atomic sliding window rate limiting.
// 1. Remove entries older than the window
// 2. Count remaining entries
// 3. If under the limit, add a new entry and return 1 (allowed)
// 4. If at/over the limit, return 0 (denied)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    return 0
end
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
	}
}

func rlKey(route string) string {
	return fmt.Sprintf("rl:upstream:%s", route)
}

// Allow checks whether another upstream call for this route fits in the
// request budget. Returns true if allowed. Redis failure fails open — a
// broken limiter must not take the transit feed down with it.
func (rl *RateLimiter) Allow(ctx context.Context, route string, limit int) bool {
	if limit <= 0 {
		return true
	}

	key := rlKey(route)
	now := time.Now().UnixMilli()
	window := int64(1000) // 1 second window in milliseconds
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000)

	result, err := rl.script.Run(ctx, rl.redisClient, []string{key},
		now, window, limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "route", route)
		return true
	}

	if result == 0 {
		rl.logger.Debug("upstream request budget exhausted", "route", route, "limit", limit)
		return false
	}

	return true
}
