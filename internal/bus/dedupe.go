package bus

import (
	"container/list"
	"sync"
	"time"
)

type dedupeEntry struct {
	seenAt  time.Time
	element *list.Element
}

// DedupeCache remembers recently seen keys (gateway message ids) so webhook
// retries do not enqueue the same message twice. Size-bounded: the oldest
// key is evicted first. Safe for concurrent use.
type DedupeCache struct {
	mu      sync.Mutex
	seen    map[string]*dedupeEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewDedupeCache creates a cache holding at most maxSize keys for ttl each.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &DedupeCache{
		seen:    make(map[string]*dedupeEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// IsDuplicate reports whether key was seen within the TTL and marks it as
// seen otherwise. Check and mark happen under one lock.
func (c *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[key]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		c.order.Remove(e.element)
		delete(c.seen, key)
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.seen, oldest.Value.(string))
	}

	c.seen[key] = &dedupeEntry{seenAt: now, element: c.order.PushBack(key)}
	return false
}

// Len returns the number of tracked keys, expired ones included.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
