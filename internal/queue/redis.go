package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// reclaimScript moves expired leases from the processing list back to the
// head of the queue. In-flight entries without a lease (the worker died
// between BLMOVE and ZADD) get one so they are reclaimed on a later pass.
//
// KEYS: queue, processing, leases. ARGV: now (ms), visibility (ms).
var reclaimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local vis = tonumber(ARGV[2])
local n = 0
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now)
for _, m in ipairs(expired) do
  redis.call('ZREM', KEYS[3], m)
  if redis.call('LREM', KEYS[2], 1, m) > 0 then
    redis.call('LPUSH', KEYS[1], m)
    n = n + 1
  end
end
local inflight = redis.call('LRANGE', KEYS[2], 0, -1)
for _, m in ipairs(inflight) do
  if not redis.call('ZSCORE', KEYS[3], m) then
    redis.call('ZADD', KEYS[3], now + vis, m)
  end
end
return n
`)

// RedisOptions tunes a RedisQueue.
type RedisOptions struct {
	// Name is the list key; producers and consumers must agree on it.
	Name string
	// Reliable pops with BLMOVE into a processing list and tracks a lease
	// per job until Ack. Off: plain BLPOP, a crash mid-job loses it.
	Reliable bool
	// Visibility is how long a leased job may stay unacknowledged.
	Visibility time.Duration
}

// RedisQueue implements Queue on a Redis list (RPUSH / BLPOP).
type RedisQueue struct {
	client     redis.UniversalClient
	key        string
	processing string
	leases     string
	reliable   bool
	visibility time.Duration
}

// NewRedis wraps an existing client. The client is owned by the caller.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *RedisQueue {
	if opts.Visibility <= 0 {
		opts.Visibility = 5 * time.Minute
	}
	return &RedisQueue{
		client:     client,
		key:        opts.Name,
		processing: opts.Name + ":processing",
		leases:     opts.Name + ":leases",
		reliable:   opts.Reliable,
		visibility: opts.Visibility,
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return unavailable("rpush", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if timeout < 0 {
		timeout = 0
	}
	if q.reliable {
		return q.popReliable(ctx, timeout)
	}

	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("blpop", err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("blpop: unexpected reply length %d", len(res))
	}
	return &Delivery{Payload: []byte(res[1])}, nil
}

func (q *RedisQueue) popReliable(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	val, err := q.client.BLMove(ctx, q.key, q.processing, "LEFT", "RIGHT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("blmove", err)
	}

	until := time.Now().Add(q.visibility).UnixMilli()
	// On failure the job stays in the processing list and Reclaim leases it.
	_ = q.client.ZAdd(ctx, q.leases, redis.Z{Score: float64(until), Member: val}).Err()
	return &Delivery{Payload: []byte(val), Receipt: val}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if !q.reliable || d == nil || d.Receipt == "" {
		return nil
	}
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, d.Receipt)
		p.ZRem(ctx, q.leases, d.Receipt)
		return nil
	})
	if err != nil {
		return unavailable("ack", err)
	}
	return nil
}

// Reclaim requeues jobs whose lease expired before now.
func (q *RedisQueue) Reclaim(ctx context.Context, now time.Time) (int, error) {
	if !q.reliable {
		return 0, nil
	}
	n, err := reclaimScript.Run(ctx, q.client,
		[]string{q.key, q.processing, q.leases},
		now.UnixMilli(), q.visibility.Milliseconds(),
	).Int()
	if err != nil {
		return 0, unavailable("reclaim", err)
	}
	return n, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, unavailable("llen", err)
	}
	return n, nil
}

// InFlight reports the number of leased, unacknowledged jobs.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	if !q.reliable {
		return 0, nil
	}
	n, err := q.client.LLen(ctx, q.processing).Result()
	if err != nil {
		return 0, unavailable("llen", err)
	}
	return n, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (q *RedisQueue) Close() error { return nil }
