// Package orchestrator adapts the external conversation orchestrator that
// turns a user message into a reply.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/chatqueue/internal/config"
	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

// Orchestrator produces the reply for one message in a conversation.
// An empty reply with a nil error is valid and handled by the caller.
type Orchestrator interface {
	Orchestrate(ctx context.Context, message, sessionID string) (string, error)
}

// Func adapts a plain function to Orchestrator.
type Func func(ctx context.Context, message, sessionID string) (string, error)

func (f Func) Orchestrate(ctx context.Context, message, sessionID string) (string, error) {
	return f(ctx, message, sessionID)
}

// AgentError is a failure inside a named product agent (travel_agent,
// car_agent, ...). Other errors are treated as general failures.
type AgentError struct {
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// New builds the orchestrator selected by cfg.Provider.
func New(cfg config.OrchestratorConfig, sessions store.SessionStore) (Orchestrator, error) {
	switch cfg.Provider {
	case "", "http":
		return NewHTTP(cfg)
	case "openai":
		return NewOpenAI(cfg.OpenAI, sessions)
	default:
		return nil, fmt.Errorf("unknown orchestrator provider %q", cfg.Provider)
	}
}
