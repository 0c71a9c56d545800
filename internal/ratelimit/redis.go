package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript prunes, checks and records in one round trip so concurrent
// gateways cannot both take the last slot.
//
// KEYS: window zset, active zset. ARGV: now ms, window ms, capacity, member, sender.
var allowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
if redis.call('ZCARD', KEYS[1]) >= cap then
  return 0
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
redis.call('ZADD', KEYS[2], now, ARGV[5])
return 1
`)

// Redis is a sliding-window limiter shared by every gateway process.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	window   time.Duration
	capacity int
	now      func() time.Time
}

// NewRedis creates a limiter storing windows under prefix.
func NewRedis(client redis.UniversalClient, prefix string, window time.Duration, capacity int) *Redis {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if prefix == "" {
		prefix = "chatqueue:ratelimit"
	}
	return &Redis{
		client:   client,
		prefix:   prefix,
		window:   window,
		capacity: capacity,
		now:      time.Now,
	}
}

func (r *Redis) activeKey() string { return r.prefix + ":active" }

func (r *Redis) Allow(ctx context.Context, key string) bool {
	now := r.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	ok, err := allowScript.Run(ctx, r.client,
		[]string{r.prefix + ":" + key, r.activeKey()},
		now, r.window.Milliseconds(), r.capacity, member, key,
	).Int()
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing", "key", key, "error", err)
		return true
	}
	return ok == 1
}

func (r *Redis) Active(ctx context.Context) int {
	cutoff := r.now().Add(-r.window).UnixMilli()
	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, r.activeKey(), "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, r.activeKey())
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("rate limiter active count failed", "error", err)
		return 0
	}
	return int(card.Val())
}
