package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Sweeper deletes idle sessions on a cron schedule.
type Sweeper struct {
	store      SessionStore
	schedule   string
	retention  time.Duration
	retryDelay time.Duration // wait after a schedule error
	now        func() time.Time
}

// NewSweeper validates the cron expression (e.g. "@hourly", "*/15 * * * *").
func NewSweeper(s SessionStore, schedule string, retention time.Duration) (*Sweeper, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", schedule)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("session retention must be positive, got %s", retention)
	}
	return &Sweeper{
		store:      s,
		schedule:   schedule,
		retention:  retention,
		retryDelay: time.Minute,
		now:        time.Now,
	}, nil
}

// RunOnce removes sessions idle for longer than the retention period.
func (w *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return w.store.Sweep(ctx, w.now().Add(-w.retention))
}

// Next returns the next scheduled sweep strictly after ref.
func (w *Sweeper) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(w.schedule, ref, false)
}

// Run sweeps at every scheduled tick until ctx is done. Errors are logged
// and retried; Run returns only once ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	slog.Info("session sweeper started", "schedule", w.schedule, "retention", w.retention)
	for {
		wait := w.retryDelay
		next, err := w.Next(w.now())
		if err != nil {
			slog.Error("session sweeper: next tick", "schedule", w.schedule, "error", err, "retry_in", wait)
		} else {
			wait = time.Until(next)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("session sweeper stopped")
			return nil
		case <-timer.C:
		}
		if err != nil {
			continue
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			slog.Warn("session sweep failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("swept idle sessions", "count", n)
		}
	}
}
