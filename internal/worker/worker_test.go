package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/chatqueue/internal/bus"
	"github.com/nextlevelbuilder/chatqueue/internal/fallback"
	"github.com/nextlevelbuilder/chatqueue/internal/orchestrator"
	"github.com/nextlevelbuilder/chatqueue/internal/queue"
	"github.com/nextlevelbuilder/chatqueue/internal/sessions"
)

const (
	phone   = "+6591234567"
	session = "whatsapp_+6591234567"
)

type sent struct{ to, text string }

type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (s *recordingSender) Send(_ context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, sent{to, text})
	return nil
}

func (s *recordingSender) all() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.msgs...)
}

type harness struct {
	worker   *Worker
	queue    *queue.MemoryQueue
	sender   *recordingSender
	sessions *sessions.Manager
}

func newHarness(t *testing.T, orch orchestrator.Orchestrator, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		queue:    queue.NewMemory(),
		sender:   &recordingSender{},
		sessions: sessions.NewManager(""),
	}
	o := Options{
		Queue:        h.queue,
		Orchestrator: orch,
		Fallback:     fallback.NewManager(h.sessions, fallback.Options{}),
		Sender:       h.sender,
		PopTimeout:   50 * time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.worker = New(o)
	return h
}

func reply(text string, err error) orchestrator.Func {
	return func(context.Context, string, string) (string, error) { return text, err }
}

func delivery(t *testing.T, message string) *queue.Delivery {
	t.Helper()
	payload, err := bus.EncodeJob(bus.NewJob("whatsapp", message, phone, nil, time.Now()))
	require.NoError(t, err)
	return &queue.Delivery{Payload: payload}
}

func (h *harness) errorCount(t *testing.T) int {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), session)
	require.NoError(t, err)
	return s.ErrorCount
}

func TestHandle_Reply(t *testing.T) {
	var gotMsg, gotSession string
	h := newHarness(t, orchestrator.Func(func(_ context.Context, m, s string) (string, error) {
		gotMsg, gotSession = m, s
		return "We offer comprehensive car cover.", nil
	}))

	out := h.worker.Handle(context.Background(), delivery(t, "I want to buy car insurance"))
	assert.Equal(t, Replied, out)
	assert.Equal(t, "I want to buy car insurance", gotMsg)
	assert.Equal(t, session, gotSession)
	assert.Equal(t, []sent{{phone, "We offer comprehensive car cover."}}, h.sender.all())
}

func TestHandle_TruncatesLongReply(t *testing.T) {
	h := newHarness(t, reply(strings.Repeat("x", 5000), nil))

	h.worker.Handle(context.Background(), delivery(t, "tell me everything"))
	msgs := h.sender.all()
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].text, 4093)
	assert.Equal(t, strings.Repeat("x", 4090)+"...", msgs[0].text)
}

func TestHandle_ReplyAtLimitUntouched(t *testing.T) {
	h := newHarness(t, reply(strings.Repeat("y", 4096), nil))
	h.worker.Handle(context.Background(), delivery(t, "q"))
	assert.Len(t, h.sender.all()[0].text, 4096)
}

func TestHandle_EmptyReplyFallsBack(t *testing.T) {
	// Blank text is not deliverable, so whitespace-only replies count as empty.
	for name, text := range map[string]string{"empty": "", "whitespace": " \n\t "} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, reply(text, nil))

			out := h.worker.Handle(context.Background(), delivery(t, "hi"))
			assert.Equal(t, Fallback, out)
			msgs := h.sender.all()
			require.Len(t, msgs, 1)
			assert.Contains(t, fallback.DefaultResponses().Categories[fallback.GeneralError], msgs[0].text)
			assert.Equal(t, 1, h.errorCount(t))
		})
	}
}

func TestHandle_OrchestratorError(t *testing.T) {
	h := newHarness(t, reply("", errors.New("llm unavailable")))

	assert.Equal(t, Fallback, h.worker.Handle(context.Background(), delivery(t, "hi")))
	assert.Contains(t, fallback.DefaultResponses().Categories[fallback.GeneralError], h.sender.all()[0].text)
}

func TestHandle_AgentError(t *testing.T) {
	h := newHarness(t, reply("", &orchestrator.AgentError{Agent: "travel_agent", Err: errors.New("no quotes")}))

	h.worker.Handle(context.Background(), delivery(t, "trip to Japan"))
	assert.Contains(t, fallback.DefaultResponses().Agents["travel_agent"], h.sender.all()[0].text)

	s, err := h.sessions.Get(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "no quotes", s.LastError)
	assert.Equal(t, 1, s.ErrorCount)
}

func TestHandle_Timeout(t *testing.T) {
	h := newHarness(t, orchestrator.Func(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), func(o *Options) { o.OrchestratorTimeout = 20 * time.Millisecond })

	assert.Equal(t, Fallback, h.worker.Handle(context.Background(), delivery(t, "slow")))
	assert.Contains(t, fallback.DefaultResponses().Categories[fallback.TimeoutError], h.sender.all()[0].text)
}

func TestHandle_MalformedJobDropped(t *testing.T) {
	h := newHarness(t, reply("unused", nil))

	for _, payload := range []string{`not json`, `{"message":"hi"}`, `{"sender_id":"+6591234567","session_id":"s"}`} {
		out := h.worker.Handle(context.Background(), &queue.Delivery{Payload: []byte(payload)})
		assert.Equal(t, Malformed, out, payload)
	}
	assert.Empty(t, h.sender.all())
}

func TestHandle_LegacyPayload(t *testing.T) {
	h := newHarness(t, reply("ok", nil))
	d := &queue.Delivery{Payload: []byte(`{"message":"hi","user_phone":"+6591234567","session_id":"whatsapp_+6591234567","metadata":{}}`)}

	assert.Equal(t, Replied, h.worker.Handle(context.Background(), d))
	assert.Equal(t, []sent{{phone, "ok"}}, h.sender.all())
}

func TestHandle_PanicRecovered(t *testing.T) {
	h := newHarness(t, orchestrator.Func(func(context.Context, string, string) (string, error) {
		panic("nil map write")
	}))

	assert.Equal(t, Recovered, h.worker.Handle(context.Background(), delivery(t, "hi")))
	assert.Equal(t, []sent{{phone, UnexpectedErrorReply}}, h.sender.all())
}

func TestRun_ProcessesUntilCancelled(t *testing.T) {
	h := newHarness(t, orchestrator.Func(func(_ context.Context, m, _ string) (string, error) {
		return "echo: " + m, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	for i := range 3 {
		require.NoError(t, h.queue.Push(ctx, delivery(t, fmt.Sprintf("m%d", i)).Payload))
	}
	require.Eventually(t, func() bool { return len(h.sender.all()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "echo: m0", h.sender.all()[0].text)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRun_StopsWhenQueueClosed(t *testing.T) {
	h := newHarness(t, reply("ok", nil))
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(context.Background()) }()

	require.NoError(t, h.queue.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRun_SurvivesBadJobs(t *testing.T) {
	h := newHarness(t, reply("fine", nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.worker.Run(ctx)

	require.NoError(t, h.queue.Push(ctx, []byte(`garbage`)))
	require.NoError(t, h.queue.Push(ctx, delivery(t, "after garbage").Payload))
	require.Eventually(t, func() bool { return len(h.sender.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
}
