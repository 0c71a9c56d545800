package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, capacity int) (*Redis, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewRedis(client, "test:rl", time.Minute, capacity)
	r.now = clk.Now
	return r, clk, mr
}

func TestRedis_CapacityAndWindow(t *testing.T) {
	r, clk, _ := newTestRedis(t, 10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.True(t, r.Allow(ctx, "+6591234567"), "message %d", i+1)
	}
	assert.False(t, r.Allow(ctx, "+6591234567"))
	assert.True(t, r.Allow(ctx, "+6500000000"))

	clk.Advance(61 * time.Second)
	assert.True(t, r.Allow(ctx, "+6591234567"))
}

func TestRedis_Active(t *testing.T) {
	r, clk, _ := newTestRedis(t, 10)
	ctx := context.Background()

	r.Allow(ctx, "a")
	r.Allow(ctx, "b")
	assert.Equal(t, 2, r.Active(ctx))

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 0, r.Active(ctx))
}

func TestRedis_FailsOpen(t *testing.T) {
	r, _, mr := newTestRedis(t, 1)
	mr.Close()

	assert.True(t, r.Allow(context.Background(), "a"))
	assert.True(t, r.Allow(context.Background(), "a"))
}
