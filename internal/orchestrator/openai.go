package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/nextlevelbuilder/chatqueue/internal/config"
	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

// ConversationKey is the session context field holding the OpenAI
// conversation id for a chat session.
const ConversationKey = "openai_conversation_id"

// OpenAI answers through the Responses API, keeping one server-side
// conversation per chat session.
type OpenAI struct {
	client       osdk.Client
	model        string
	instructions string
	sessions     store.SessionStore
}

// NewOpenAI creates the adapter. sessions stores the conversation ids.
func NewOpenAI(cfg config.OpenAIOrchestrator, sessions store.SessionStore, extra ...option.RequestOption) (*OpenAI, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("orchestrator.openai: OPENAI_API_KEY or CHATQUEUE_OPENAI_API_KEY must be set")
	}
	if sessions == nil {
		return nil, errors.New("orchestrator.openai: session store is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAI{
		client:       osdk.NewClient(opts...),
		model:        model,
		instructions: cfg.Instructions,
		sessions:     sessions,
	}, nil
}

func (o *OpenAI) Orchestrate(ctx context.Context, message, sessionID string) (string, error) {
	log := slog.Default().With("component", "orchestrator.openai", "session_id", sessionID)
	startedAt := time.Now()

	convID, err := o.conversation(ctx, sessionID)
	if err != nil {
		return "", err
	}

	params := responses.ResponseNewParams{
		Model: o.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(message)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: convID},
		},
	}
	if o.instructions != "" {
		params.Instructions = osdk.String(o.instructions)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		log.Debug("responses request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("openai responses: %w", err)
	}

	text := strings.TrimSpace(resp.OutputText())
	log.Debug("responses request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"response_length", len(text),
	)
	return text, nil
}

// conversation returns the conversation bound to sessionID, creating and
// recording one on first use.
func (o *OpenAI) conversation(ctx context.Context, sessionID string) (string, error) {
	state, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if id := state.Context[ConversationKey]; id != "" {
		return id, nil
	}

	conv, err := o.client.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	id := strings.TrimSpace(conv.ID)
	if id == "" {
		return "", errors.New("create conversation returned empty id")
	}
	if err := o.sessions.UpdateContext(ctx, sessionID, map[string]string{ConversationKey: id}); err != nil {
		return "", fmt.Errorf("store conversation id: %w", err)
	}
	return id, nil
}
