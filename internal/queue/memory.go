package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for tests and single-binary runs.
// Jobs do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	wake   *broadcaster
}

func NewMemory() *MemoryQueue {
	return &MemoryQueue{wake: newBroadcaster()}
}

func (q *MemoryQueue) Push(_ context.Context, payload []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, append([]byte(nil), payload...))
	q.mu.Unlock()

	q.wake.notify()
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	expired, stop := deadline(timeout)
	defer stop()

	for {
		// Grab the wake channel before checking so a push in between is not missed.
		wake := q.wake.wait()

		q.mu.Lock()
		if len(q.items) > 0 {
			payload := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return &Delivery{Payload: payload}, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-wake:
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(context.Context, *Delivery) error { return nil }

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Close wakes all blocked Pop calls; queued items are discarded.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.wake.notify()
	return nil
}
