package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/chatqueue/internal/app"
	"github.com/nextlevelbuilder/chatqueue/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/chatqueue/internal/gateway"
	"github.com/nextlevelbuilder/chatqueue/internal/ingress"
	"github.com/nextlevelbuilder/chatqueue/internal/queue"
	"github.com/nextlevelbuilder/chatqueue/internal/tracing"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the webhook gateway (ingress producer)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context())
		},
	}
}

func runGateway(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, "gateway")
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing)

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// The gateway keeps serving without a queue: users get the
	// "temporarily unavailable" notice and /health reports degraded.
	var q queue.Queue
	if opened, err := a.OpenQueue(ctx); err != nil {
		slog.Error("queue unavailable, messages will be refused", "backend", cfg.Queue.Backend, "error", err)
	} else {
		q = opened
	}

	// The bridge delivers inbound messages over its socket, so the sender
	// needs the producer and the producer needs the sender.
	var producer *ingress.Producer
	sender, err := a.NewSender(func(ctx context.Context, in whatsapp.Inbound) {
		ack := producer.AcceptInbound(ctx, in)
		slog.Debug("bridge message accepted", "outcome", ack.Outcome.String(), "session", ack.SessionID)
	})
	if err != nil {
		if !errors.Is(err, whatsapp.ErrNotConfigured) {
			return err
		}
		slog.Warn("whatsapp sender not configured, user notices will not be delivered")
	}

	opts := ingress.Options{
		Queue:      q,
		Limiter:    a.Limiter,
		Deduper:    a.NewDeduper(),
		Prefix:     cfg.Ingress.ChannelPrefix,
		MaxMessage: cfg.Ingress.MaxMessageChars,
	}
	if sender != nil {
		opts.Sender = sender
	}
	producer = ingress.NewProducer(opts)

	if sender != nil {
		if err := sender.Start(ctx); err != nil {
			return err
		}
	}

	if cfg.Channels.WhatsApp.VerifyToken == "" {
		slog.Warn("webhook verification token not set, GET verification will be refused")
	}

	server := gateway.NewServer(cfg, producer, a.Sessions, a.Limiter, q)
	slog.Info("chatqueue gateway starting",
		"version", Version,
		"queue", cfg.Queue.Backend,
		"sessions", cfg.Sessions.Backend,
		"rate_limit", cfg.RateLimit.Backend,
		"whatsapp_mode", cfg.Channels.WhatsApp.Mode,
	)

	if !cfg.SingleProcess() {
		if err := server.Start(ctx); err != nil {
			return err
		}
		slog.Info("gateway stopped")
		return nil
	}

	// An in-process queue is only visible here, so this process consumes it too.
	if q == nil || sender == nil {
		return fmt.Errorf("queue.backend %q needs a working queue and whatsapp sender in the gateway process", cfg.Queue.Backend)
	}
	pool, err := a.NewPool(ctx, q, sender, 0)
	if err != nil {
		return err
	}
	slog.Info("single-process mode: consumers run inside the gateway", "workers", pool.Size())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return pool.Run(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("gateway stopped")
	return nil
}

func flushTracing(shutdown tracing.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("tracing shutdown", "error", err)
	}
}
