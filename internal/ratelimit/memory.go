package ratelimit

import (
	"context"
	"sync"
	"time"
)

// maxTrackedKeys caps the number of tracked senders so rotating sender ids
// cannot exhaust memory.
const maxTrackedKeys = 4096

// Memory is a process-local sliding-window limiter. Safe for concurrent use.
type Memory struct {
	window   time.Duration
	capacity int
	maxKeys  int
	now      func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemory creates a limiter allowing capacity events per window per key.
func NewMemory(window time.Duration, capacity int) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		window:   window,
		capacity: capacity,
		maxKeys:  maxTrackedKeys,
		now:      time.Now,
		windows:  make(map[string][]time.Time),
	}
}

func (m *Memory) Allow(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ts := prune(m.windows[key], now.Add(-m.window))

	if len(ts) >= m.capacity {
		m.windows[key] = ts
		return false
	}

	if _, tracked := m.windows[key]; !tracked && len(m.windows) >= m.maxKeys {
		m.evict(now)
	}
	m.windows[key] = append(ts, now)
	return true
}

func (m *Memory) Active(context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.window)
	for k, ts := range m.windows {
		if ts = prune(ts, cutoff); len(ts) == 0 {
			delete(m.windows, k)
		} else {
			m.windows[k] = ts
		}
	}
	return len(m.windows)
}

// evict drops stale keys, then the key with the oldest latest event until
// there is room for one more. Caller holds mu.
func (m *Memory) evict(now time.Time) {
	cutoff := now.Add(-m.window)
	for k, ts := range m.windows {
		if len(prune(ts, cutoff)) == 0 {
			delete(m.windows, k)
		}
	}
	for len(m.windows) >= m.maxKeys {
		var (
			oldestKey string
			oldest    time.Time
		)
		for k, ts := range m.windows {
			last := ts[len(ts)-1]
			if oldestKey == "" || last.Before(oldest) {
				oldestKey, oldest = k, last
			}
		}
		delete(m.windows, oldestKey)
	}
}

// prune drops timestamps at or before cutoff. ts is ordered oldest first.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
