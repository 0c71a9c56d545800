package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/chatqueue/internal/sessions"
	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

func TestNewSweeper_Validation(t *testing.T) {
	m := sessions.NewManager("")

	_, err := store.NewSweeper(m, "not a cron", time.Hour)
	assert.Error(t, err)
	_, err = store.NewSweeper(m, "@hourly", 0)
	assert.Error(t, err)

	w, err := store.NewSweeper(m, "@hourly", 24*time.Hour)
	require.NoError(t, err)

	ref := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)
	next, err := w.Next(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), next.UTC())
}

func TestSweeper_RunOnceUsesRetention(t *testing.T) {
	m := sessions.NewManager("")
	ctx := context.Background()
	_, err := m.IncrementErrorCount(ctx, "recent")
	require.NoError(t, err)

	w, err := store.NewSweeper(m, "@hourly", time.Hour)
	require.NoError(t, err)

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st, _ := m.Stats(ctx)
	assert.Equal(t, 1, st.Total)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	w, err := store.NewSweeper(sessions.NewManager(""), "@daily", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
