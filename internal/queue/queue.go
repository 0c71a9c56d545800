// Package queue is the durable FIFO between the webhook gateway and the
// workers. Producers push opaque payloads; consumers pop them with a
// bounded or indefinite wait. Delivery is at-least-once.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrUnavailable wraps failures to reach the queue backend.
	ErrUnavailable = errors.New("queue unavailable")
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue closed")
)

// Delivery is one popped payload. Receipt identifies the in-flight copy
// for Ack on backends that lease jobs; it is empty otherwise.
type Delivery struct {
	Payload []byte
	Receipt string
}

// Queue is a named FIFO of serialized jobs.
type Queue interface {
	// Push appends payload to the tail.
	Push(ctx context.Context, payload []byte) error
	// Pop removes the head, waiting up to timeout for one to arrive.
	// A zero timeout waits until ctx is done. Returns (nil, nil) on timeout.
	Pop(ctx context.Context, timeout time.Duration) (*Delivery, error)
	// Ack confirms a delivery was processed. No-op for non-leasing backends.
	Ack(ctx context.Context, d *Delivery) error
	// Len reports the number of waiting jobs (in-flight leases excluded).
	Len(ctx context.Context) (int64, error)
	Close() error
}

// Reclaimer is implemented by backends that lease popped jobs. Reclaim
// returns expired leases to the head of the queue.
type Reclaimer interface {
	Reclaim(ctx context.Context, now time.Time) (int, error)
}

// Pinger is implemented by backends that can check connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// broadcaster wakes every waiter at once: each notify closes the current
// channel and installs a fresh one.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) notify() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}

// deadline returns a channel that fires after timeout, or nil (never) for 0.
func deadline(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}
