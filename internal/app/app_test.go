package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/chatqueue/internal/channels"
	"github.com/nextlevelbuilder/chatqueue/internal/config"
	"github.com/nextlevelbuilder/chatqueue/internal/fallback"
	"github.com/nextlevelbuilder/chatqueue/internal/ingress"
	"github.com/nextlevelbuilder/chatqueue/internal/queue"
	"github.com/nextlevelbuilder/chatqueue/internal/ratelimit"
	"github.com/nextlevelbuilder/chatqueue/internal/sessions"
	"github.com/nextlevelbuilder/chatqueue/internal/store/redisstore"
	"github.com/nextlevelbuilder/chatqueue/internal/store/sqlite"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Queue.Backend = "memory"
	cfg.Sessions.Backend = "memory"
	cfg.RateLimit.Backend = "memory"
	return cfg
}

func TestOpen_Memory(t *testing.T) {
	a, err := Open(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.IsType(t, &sessions.Manager{}, a.Sessions)
	assert.IsType(t, &ratelimit.Memory{}, a.Limiter)

	q, err := a.OpenQueue(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &queue.MemoryQueue{}, q)
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"
	cfg.Sessions.Backend = "redis"
	cfg.RateLimit.Backend = "redis"

	a, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &redisstore.SessionStore{}, a.Sessions)
	assert.IsType(t, &ratelimit.Redis{}, a.Limiter)
	assert.IsType(t, &ingress.RedisDeduper{}, a.NewDeduper())

	q, err := a.OpenQueue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Push(context.Background(), []byte(`{}`)))
	assert.True(t, mr.Exists("hlas_chat_queue"))
}

func TestOpenQueue_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"
	a, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	mr.Close()
	_, err = a.OpenQueue(context.Background())
	assert.ErrorIs(t, err, queue.ErrUnavailable)
}

func TestOpen_SQLiteAndFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.Sessions.Backend = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "sessions.db")
	a, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.SessionStore{}, a.Sessions)
	require.NoError(t, a.Close())

	cfg = memoryConfig()
	cfg.Sessions.Backend = "file"
	cfg.Sessions.Dir = t.TempDir()
	a, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Sessions.IncrementErrorCount(context.Background(), "whatsapp_+6591234567")
	require.NoError(t, err)
	matches, _ := filepath.Glob(filepath.Join(cfg.Sessions.Dir, "*.json"))
	assert.Len(t, matches, 1)
}

func TestNewSender(t *testing.T) {
	a, err := Open(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.NewSender(nil)
	assert.Error(t, err, "cloud mode needs credentials")

	a.Config.Channels.WhatsApp.AccessToken = "tok"
	a.Config.Channels.WhatsApp.PhoneNumberID = "123"
	s, err := a.NewSender(nil)
	require.NoError(t, err)
	assert.NoError(t, s.Start(context.Background()))

	a.Config.Channels.WhatsApp.Mode = "bridge"
	_, err = a.NewSender(nil)
	assert.Error(t, err, "bridge mode needs a url")
}

func TestNewDeduperAndSweeper(t *testing.T) {
	a, err := Open(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &ingress.MemoryDeduper{}, a.NewDeduper())
	sw, err := a.NewSweeper()
	require.NoError(t, err)
	assert.NotNil(t, sw)

	a.Config.Ingress.DedupeTTLMin = 0
	assert.Nil(t, a.NewDeduper())
	a.Config.Sessions.SweepSchedule = ""
	sw, err = a.NewSweeper()
	require.NoError(t, err)
	assert.Nil(t, sw)
}

func TestNewFallback_WithResponsesFile(t *testing.T) {
	a, err := Open(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	a.Config.Fallback.ResponsesFile = filepath.Join(t.TempDir(), "missing.json5")
	_, err = a.NewFallback(context.Background())
	assert.Error(t, err)

	a.Config.Fallback.ResponsesFile = ""
	m, err := a.NewFallback(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestDefaults_EscalationSharedAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	open := func() *App {
		cfg := config.Default()
		cfg.Redis.URL = "redis://" + mr.Addr() + "/0"
		require.NoError(t, cfg.Validate())
		a, err := Open(context.Background(), cfg)
		require.NoError(t, err)
		t.Cleanup(func() { a.Close() })
		assert.IsType(t, &redisstore.SessionStore{}, a.Sessions)
		return a
	}
	a1, a2 := open(), open()

	ctx := context.Background()
	m1, err := a1.NewFallback(ctx)
	require.NoError(t, err)
	m2, err := a2.NewFallback(ctx)
	require.NoError(t, err)

	// Two worker processes take turns failing the same session.
	const sid = "whatsapp_+6591234567"
	escalations := fallback.DefaultResponses().Escalation
	for i := 1; i <= 5; i++ {
		m := m1
		if i%2 == 0 {
			m = m2
		}
		reply := m.Respond(ctx, fallback.GeneralError, sid)
		assert.False(t, slices.Contains(escalations, reply), "failure %d escalated early", i)
	}
	reply := m2.Respond(ctx, fallback.GeneralError, sid)
	assert.True(t, slices.Contains(escalations, reply), "sixth failure must escalate")
}

func TestNewPool_SingleProcessAnswersMessages(t *testing.T) {
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"Here are our car plans."}`))
	}))
	defer orch.Close()

	cfg := memoryConfig()
	cfg.Orchestrator.URL = orch.URL
	cfg.Worker.PopTimeoutSec = 1
	require.True(t, cfg.SingleProcess())

	a, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q, err := a.OpenQueue(ctx)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		sent = map[string]string{}
	)
	sender := channels.SenderFunc(func(_ context.Context, to, text string) error {
		mu.Lock()
		defer mu.Unlock()
		sent[to] = text
		return nil
	})

	pool, err := a.NewPool(ctx, q, sender, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	producer := ingress.NewProducer(ingress.Options{Queue: q, Limiter: a.Limiter, Sender: sender})
	ack := producer.Accept(ctx, []byte(`{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
	"messages":[{"from":"+6591234567","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"I want to buy car insurance"}}]}}]}]}`))
	assert.Equal(t, "whatsapp_+6591234567", ack.SessionID)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sent["+6591234567"] == "Here are our car plans."
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not stop")
	}
}
