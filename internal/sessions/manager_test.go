package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

func TestManager_GetCreatesOnFirstReference(t *testing.T) {
	m := NewManager("")
	ctx := context.Background()

	s, err := m.Get(ctx, "whatsapp_+6591234567")
	require.NoError(t, err)
	assert.Equal(t, 0, s.ErrorCount)
	assert.NotNil(t, s.Context)

	st, _ := m.Stats(ctx)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 0, st.WithErrors)
}

func TestManager_EmptyID(t *testing.T) {
	m := NewManager("")
	_, err := m.Get(context.Background(), "")
	assert.ErrorIs(t, err, store.ErrInvalidSessionID)
	_, err = m.IncrementErrorCount(context.Background(), "")
	assert.ErrorIs(t, err, store.ErrInvalidSessionID)
}

func TestManager_GetReturnsCopy(t *testing.T) {
	m := NewManager("")
	ctx := context.Background()
	require.NoError(t, m.UpdateContext(ctx, "s", map[string]string{"product": "car"}))

	s, _ := m.Get(ctx, "s")
	s.Context["product"] = "travel"
	s.ErrorCount = 99

	again, _ := m.Get(ctx, "s")
	assert.Equal(t, "car", again.Context["product"])
	assert.Equal(t, 0, again.ErrorCount)
}

func TestManager_ConcurrentIncrements(t *testing.T) {
	m := NewManager("")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.IncrementErrorCount(ctx, "s")
		}()
	}
	wg.Wait()

	s, _ := m.Get(ctx, "s")
	assert.Equal(t, 100, s.ErrorCount)
}

func TestManager_LastErrorAndSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager("")
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.SetLastError(ctx, "old", "car_agent: timeout", now))
	now = now.Add(2 * time.Hour)
	_, err := m.IncrementErrorCount(ctx, "fresh")
	require.NoError(t, err)

	old, _ := m.Get(ctx, "old")
	assert.Equal(t, "car_agent: timeout", old.LastError)
	assert.True(t, old.LastErrorTime.Equal(now.Add(-2*time.Hour)))

	n, err := m.Sweep(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, _ := m.Stats(ctx)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.WithErrors)
}

func TestManager_PersistsToDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m := NewManager(dir)
	_, err := m.IncrementErrorCount(ctx, "whatsapp_+6591234567")
	require.NoError(t, err)
	require.NoError(t, m.UpdateContext(ctx, "whatsapp_+6591234567", map[string]string{"stage": "quote"}))

	reloaded := NewManager(dir)
	s, err := reloaded.Get(ctx, "whatsapp_+6591234567")
	require.NoError(t, err)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, "quote", s.Context["stage"])

	n, err := reloaded.Sweep(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, NewManager(dir).sessions)
}
