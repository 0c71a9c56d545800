package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatqueue/internal/app"
	"github.com/nextlevelbuilder/chatqueue/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/chatqueue/internal/tracing"
)

func workerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queue consumers that call the orchestrator and send replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), concurrency)
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "number of consumers (default: worker.concurrency)")
	return cmd
}

func runWorker(parent context.Context, concurrency int) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.SingleProcess() {
		return fmt.Errorf("queue.backend %q is in-process: the gateway runs its own workers, start `chatqueue gateway` instead", cfg.Queue.Backend)
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, "worker")
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing)

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Unlike the gateway, a worker has nothing to do without its queue.
	q, err := a.OpenQueue(ctx)
	if err != nil {
		return fmt.Errorf("worker cannot start: %w", err)
	}

	// Inbound bridge traffic belongs to the gateway; the worker only sends.
	sender, err := a.NewSender(func(context.Context, whatsapp.Inbound) {})
	if err != nil {
		return fmt.Errorf("whatsapp sender: %w", err)
	}
	if err := sender.Start(ctx); err != nil {
		return err
	}

	pool, err := a.NewPool(ctx, q, sender, concurrency)
	if err != nil {
		return err
	}

	slog.Info("chatqueue worker starting",
		"version", Version,
		"workers", pool.Size(),
		"queue", cfg.Queue.Backend,
		"reliable", cfg.Queue.Reliable,
		"orchestrator", cfg.Orchestrator.Provider,
	)
	if err := pool.Run(ctx); err != nil {
		return err
	}
	slog.Info("worker stopped")
	return nil
}
