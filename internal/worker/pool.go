package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/chatqueue/internal/queue"
	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

// Pool runs several workers on one queue, plus the lease reclaimer and
// session sweeper when configured.
type Pool struct {
	workers         []*Worker
	reclaimer       queue.Reclaimer
	reclaimInterval time.Duration
	sweeper         *store.Sweeper
}

// NewPool creates n workers sharing opts. Each gets a numbered name.
func NewPool(n int, opts Options) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{}
	for i := range n {
		o := opts
		o.Name = fmt.Sprintf("worker-%d", i+1)
		p.workers = append(p.workers, New(o))
	}
	return p
}

// WithReclaimer requeues expired leases every interval.
func (p *Pool) WithReclaimer(r queue.Reclaimer, interval time.Duration) *Pool {
	p.reclaimer = r
	p.reclaimInterval = interval
	return p
}

// WithSweeper runs the session retention sweep alongside the workers.
func (p *Pool) WithSweeper(s *store.Sweeper) *Pool {
	p.sweeper = s
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Run blocks until ctx is cancelled and every goroutine has returned.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(ctx) })
	}
	if p.reclaimer != nil && p.reclaimInterval > 0 {
		g.Go(func() error { return p.reclaimLoop(ctx) })
	}
	if p.sweeper != nil {
		// Housekeeping failures never cancel the consumers.
		g.Go(func() error {
			if err := p.sweeper.Run(ctx); err != nil {
				slog.Error("session sweeper exited", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) reclaimLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := p.reclaimer.Reclaim(ctx, now)
			if err != nil {
				slog.Warn("lease reclaim failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("requeued expired jobs", "count", n)
			}
		}
	}
}
