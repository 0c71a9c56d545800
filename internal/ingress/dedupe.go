package ingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/chatqueue/internal/bus"
)

// Deduper reports whether a gateway message id was already accepted.
// The first call for an id returns false and records it.
type Deduper interface {
	Seen(ctx context.Context, messageID string) bool
}

// MemoryDeduper is a process-local Deduper.
type MemoryDeduper struct {
	cache *bus.DedupeCache
}

func NewMemoryDeduper(ttl time.Duration, maxSize int) *MemoryDeduper {
	return &MemoryDeduper{cache: bus.NewDedupeCache(ttl, maxSize)}
}

func (d *MemoryDeduper) Seen(_ context.Context, messageID string) bool {
	return d.cache.IsDuplicate(messageID)
}

// RedisDeduper shares seen ids between gateway replicas with SET NX EX.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

// Seen fails open: on a Redis error the message is treated as new.
func (d *RedisDeduper) Seen(ctx context.Context, messageID string) bool {
	if messageID == "" {
		return false
	}
	ok, err := d.client.SetNX(ctx, d.prefix+":seen:"+messageID, 1, d.ttl).Result()
	if err != nil {
		slog.Warn("ingress: dedupe check failed", "message_id", messageID, "error", err)
		return false
	}
	return !ok
}
