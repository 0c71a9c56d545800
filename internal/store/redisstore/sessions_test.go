package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, "test"), mr
}

func TestSessionStore_GetUnknownIsZero(t *testing.T) {
	s, mr := newTestStore(t)
	st, err := s.Get(context.Background(), "whatsapp_+6591234567")
	require.NoError(t, err)
	assert.Equal(t, 0, st.ErrorCount)
	assert.Empty(t, st.Context)
	assert.False(t, mr.Exists("test:session:whatsapp_+6591234567"))
}

func TestSessionStore_IncrementAndContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	id := "whatsapp_+6591234567"

	n, err := s.IncrementErrorCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncrementErrorCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.UpdateContext(ctx, id, map[string]string{"product": "car", "stage": "quote"}))
	require.NoError(t, s.UpdateContext(ctx, id, map[string]string{"stage": "payment"}))
	at := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, s.SetLastError(ctx, id, "car_agent: upstream 502", at))

	st, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ErrorCount)
	assert.Equal(t, map[string]string{"product": "car", "stage": "payment"}, st.Context)
	assert.Equal(t, "car_agent: upstream 502", st.LastError)
	assert.True(t, st.LastErrorTime.Equal(at))
	assert.False(t, st.Created.IsZero())
}

func TestSessionStore_ConcurrentIncrements(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.IncrementErrorCount(ctx, "s")
		}()
	}
	wg.Wait()

	st, err := s.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 20, st.ErrorCount)
}

func TestSessionStore_SweepAndStats(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	_, err := s.IncrementErrorCount(ctx, "old")
	require.NoError(t, err)

	now = now.Add(3 * time.Hour)
	require.NoError(t, s.UpdateContext(ctx, "fresh", map[string]string{"a": "b"}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.WithErrors)

	n, err := s.Sweep(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("test:session:old"))
	assert.True(t, mr.Exists("test:session:fresh"))

	stats, _ = s.Stats(ctx)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 0, stats.WithErrors)
}
