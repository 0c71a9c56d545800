// Package ratelimit provides per-sender sliding-window admission control.
package ratelimit

import (
	"context"
	"time"
)

// Limiter admits or denies one event for a key. Allow records the event
// when it admits it. Implementations fail open: a backend error allows.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
	// Active reports how many keys have events inside the current window.
	Active(ctx context.Context) int
}

// Default window and capacity: ten messages per sender per minute.
const (
	DefaultWindow   = 60 * time.Second
	DefaultCapacity = 10
)
