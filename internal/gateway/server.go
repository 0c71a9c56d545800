// Package gateway serves the messaging webhook and the health endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/chatqueue/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/chatqueue/internal/config"
	"github.com/nextlevelbuilder/chatqueue/internal/ingress"
	"github.com/nextlevelbuilder/chatqueue/internal/queue"
	"github.com/nextlevelbuilder/chatqueue/internal/ratelimit"
	"github.com/nextlevelbuilder/chatqueue/internal/store"
)

// Server is the HTTP front door: webhook verification, webhook delivery
// and health.
type Server struct {
	cfg      *config.Config
	producer *ingress.Producer
	sessions store.SessionStore
	limiter  ratelimit.Limiter
	queue    queue.Queue // nil when the queue was unreachable at startup

	httpServer *http.Server
	mux        *http.ServeMux
	now        func() time.Time
}

// NewServer creates a gateway server. q may be nil.
func NewServer(cfg *config.Config, producer *ingress.Producer, sessions store.SessionStore, limiter ratelimit.Limiter, q queue.Queue) *Server {
	return &Server{
		cfg:      cfg,
		producer: producer,
		sessions: sessions,
		limiter:  limiter,
		queue:    q,
		now:      time.Now,
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	path := s.cfg.Gateway.WebhookPath
	if path == "" {
		path = "/webhook"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, whatsapp.VerifyHandler(s.cfg.Channels.WhatsApp.VerifyToken))
	mux.HandleFunc("POST "+path, s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", ln.Addr().String(), "webhook_path", s.cfg.Gateway.WebhookPath)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleWebhook always acknowledges with 200 so the gateway never
// disables the subscription; outcomes are only logged.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Gateway.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	ack := s.producer.Accept(r.Context(), body)
	slog.Debug("webhook processed", "outcome", ack.Outcome.String(), "session_id", ack.SessionID)
	w.WriteHeader(http.StatusOK)
}

type healthResponse struct {
	Status                 string              `json:"status"`
	Timestamp              string              `json:"timestamp"`
	Sessions               *store.SessionStats `json:"sessions,omitempty"`
	ActiveRateLimitedUsers int                 `json:"active_rate_limited_users"`
	QueueLength            *int64              `json:"queue_length,omitempty"`
	VerifyTokenConfigured  bool                `json:"webhook_verification_token_configured"`
	Error                  string              `json:"error,omitempty"`
}

// handleHealth reports session stats, rate limiter activity and queue depth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:                 "healthy",
		Timestamp:              s.now().UTC().Format(time.RFC3339),
		ActiveRateLimitedUsers: s.limiter.Active(ctx),
		VerifyTokenConfigured:  s.cfg.Channels.WhatsApp.VerifyToken != "",
	}
	code := http.StatusOK

	if stats, err := s.sessions.Stats(ctx); err != nil {
		resp.Status, resp.Error = "error", "sessions: "+err.Error()
		code = http.StatusServiceUnavailable
	} else {
		resp.Sessions = &stats
	}

	if s.queue == nil {
		resp.Status, resp.Error = "degraded", "queue not connected"
		code = http.StatusServiceUnavailable
	} else if n, err := s.queue.Len(ctx); err != nil {
		resp.Status, resp.Error = "degraded", "queue: "+err.Error()
		code = http.StatusServiceUnavailable
	} else {
		resp.QueueLength = &n
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
