package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

// Default escalation thresholds.
const (
	DefaultGlobalThreshold = 5
	DefaultAgentThreshold  = 3
)

// Options configures a Manager. Zero values take the defaults.
type Options struct {
	Selector        Selector
	Responses       *Responses
	GlobalThreshold int
	AgentThreshold  int
}

// Manager selects canned replies and escalates conversations whose error
// count has crossed a threshold. It never returns an error: any internal
// failure degrades to MinimalApology.
type Manager struct {
	sessions  store.SessionStore
	responses atomic.Pointer[Responses]
	selector  Selector
	global    int
	agent     int
	now       func() time.Time
}

// NewManager creates a manager reading and updating counters in sessions.
func NewManager(sessions store.SessionStore, opts Options) *Manager {
	m := &Manager{
		sessions: sessions,
		selector: opts.Selector,
		global:   opts.GlobalThreshold,
		agent:    opts.AgentThreshold,
		now:      time.Now,
	}
	if m.selector == nil {
		m.selector = randomSelector{}
	}
	if m.global <= 0 {
		m.global = DefaultGlobalThreshold
	}
	if m.agent <= 0 {
		m.agent = DefaultAgentThreshold
	}
	r := opts.Responses
	if r == nil {
		r = DefaultResponses()
	}
	m.responses.Store(r)
	return m
}

// SetResponses swaps the reply sets. Safe while replies are being served.
func (m *Manager) SetResponses(r *Responses) {
	if r != nil {
		m.responses.Store(r)
	}
}

// Respond returns a canned reply for cat. With a session id it first
// checks the escalation thresholds against the current error count, and
// increments the count when it does not escalate.
func (m *Manager) Respond(ctx context.Context, cat Category, sessionID string) string {
	return m.respond(ctx, cat, sessionID, func() string {
		return m.pick(sessionID, string(cat), m.responses.Load().category(cat))
	})
}

// RespondForAgent records the failure on the session and returns a reply
// from the agent's own set. It does not check escalation.
func (m *Manager) RespondForAgent(ctx context.Context, agent, sessionID, detail string) (reply string) {
	defer m.recoverTo(&reply, sessionID)

	slog.Error("agent failure", "agent", agent, "session_id", sessionID, "error", detail)
	if sessionID != "" {
		if err := m.sessions.SetLastError(ctx, sessionID, detail, m.now()); err != nil {
			slog.Warn("fallback: record last error failed", "session_id", sessionID, "error", err)
		}
	}
	return m.pick(sessionID, "agent:"+agent, m.responses.Load().agent(agent))
}

// HandleFailure maps a worker failure to a reply. Agent failures go
// through the escalation check and then reply from the agent's set.
func (m *Manager) HandleFailure(ctx context.Context, f Failure, sessionID string) string {
	switch f := f.(type) {
	case AgentFailure:
		return m.respond(ctx, AgentError, sessionID, func() string {
			return m.RespondForAgent(ctx, f.Agent, sessionID, f.Detail)
		})
	case GeneralFailure, EmptyReply, TimeoutFailure, InvalidInput:
		return m.Respond(ctx, f.Category(), sessionID)
	default:
		slog.Error("fallback: unhandled failure type", "type", fmt.Sprintf("%T", f))
		return m.Respond(ctx, GeneralError, sessionID)
	}
}

// RespondConfusion returns a clarifying reply for a user who seems lost.
// Confusion is not a failure: the error count is left alone.
func (m *Manager) RespondConfusion(sessionID, kind string) (reply string) {
	defer m.recoverTo(&reply, sessionID)
	return m.pick(sessionID, "confusion:"+kind, m.responses.Load().confusion(kind))
}

// Escalation returns a human handoff message.
func (m *Manager) Escalation(sessionID string) string {
	return m.pick(sessionID, "escalation", m.responses.Load().Escalation)
}

func (m *Manager) respond(ctx context.Context, cat Category, sessionID string, reply func() string) (out string) {
	defer m.recoverTo(&out, sessionID)

	if !cat.Valid() {
		cat = GeneralError
	}
	if sessionID == "" {
		slog.Info("fallback response used", "category", cat)
		return reply()
	}

	state, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		slog.Error("fallback: session lookup failed", "session_id", sessionID, "error", err)
		return MinimalApology
	}

	if m.shouldEscalate(cat, state.ErrorCount) {
		slog.Warn("escalating session to human support",
			"session_id", sessionID, "category", cat, "error_count", state.ErrorCount)
		return m.Escalation(sessionID)
	}

	out = reply()
	slog.Info("fallback response used", "category", cat, "session_id", sessionID)

	if _, err := m.sessions.IncrementErrorCount(ctx, sessionID); err != nil {
		slog.Warn("fallback: increment error count failed", "session_id", sessionID, "error", err)
	}
	return out
}

func (m *Manager) shouldEscalate(cat Category, count int) bool {
	if count >= m.global {
		return true
	}
	return cat == AgentError && count >= m.agent
}

func (m *Manager) pick(sessionID, set string, variants []string) string {
	if len(variants) == 0 {
		return MinimalApology
	}
	return variants[m.selector.Pick(sessionID, set, len(variants))]
}

func (m *Manager) recoverTo(out *string, sessionID string) {
	if r := recover(); r != nil {
		slog.Error("fallback: recovered from panic", "session_id", sessionID, "panic", r)
		*out = MinimalApology
	}
}
