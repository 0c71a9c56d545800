package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/chatqueue/internal/config"
)

// HTTP calls an orchestrator service over JSON:
//
//	POST {url}  {"message": "...", "session_id": "..."}
//	200         {"response": "..."}
//	error       {"error": "...", "agent": "car_agent"}
type HTTP struct {
	url    string
	token  string
	client *http.Client
}

type httpRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type httpResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
	Agent    string `json:"agent,omitempty"`
}

// NewHTTP creates an HTTP orchestrator client. The worker applies its own
// deadline; TimeoutSec only bounds the transport.
func NewHTTP(cfg config.OrchestratorConfig) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, errors.New("orchestrator.url is required for the http provider")
	}
	c := &http.Client{}
	if cfg.TimeoutSec > 0 {
		c.Timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return &HTTP{url: cfg.URL, token: cfg.Token, client: c}, nil
}

func (h *HTTP) Orchestrate(ctx context.Context, message, sessionID string) (string, error) {
	body, err := json.Marshal(httpRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("marshal orchestrator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build orchestrator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call orchestrator: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read orchestrator response: %w", err)
	}

	var out httpResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("orchestrator status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		}
		return "", fmt.Errorf("decode orchestrator response: %w", err)
	}

	if out.Error != "" || resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		if out.Agent != "" {
			return "", &AgentError{Agent: out.Agent, Err: errors.New(msg)}
		}
		return "", fmt.Errorf("orchestrator: %s", msg)
	}
	return out.Response, nil
}
