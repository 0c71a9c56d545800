package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatqueue/internal/app"
	"github.com/nextlevelbuilder/chatqueue/internal/queue"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the job queue",
	}
	cmd.AddCommand(queueStatsCmd())
	cmd.AddCommand(queueReclaimCmd())
	return cmd
}

// withQueue opens the configured backends and queue for a one-shot command.
func withQueue(ctx context.Context, fn func(*app.App, queue.Queue) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := a.OpenQueue(ctx)
	if err != nil {
		return err
	}
	return fn(a, q)
}

type queueStats struct {
	Backend  string `json:"backend"`
	Name     string `json:"name"`
	Reliable bool   `json:"reliable"`
	Waiting  int64  `json:"waiting"`
	InFlight *int64 `json:"in_flight,omitempty"`
}

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show waiting and in-flight job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(a *app.App, q queue.Queue) error {
				n, err := q.Len(cmd.Context())
				if err != nil {
					return err
				}
				stats := queueStats{
					Backend:  a.Config.Queue.Backend,
					Name:     a.Config.Queue.Name,
					Reliable: a.Config.Queue.Reliable,
					Waiting:  n,
				}
				if rq, ok := q.(*queue.RedisQueue); ok && a.Config.Queue.Reliable {
					inFlight, err := rq.InFlight(cmd.Context())
					if err != nil {
						return err
					}
					stats.InFlight = &inFlight
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			})
		},
	}
}

func queueReclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Requeue jobs whose lease has expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(a *app.App, q queue.Queue) error {
				r, ok := q.(queue.Reclaimer)
				if !ok || !a.Config.Queue.Reliable {
					return fmt.Errorf("queue %q does not lease jobs (set queue.reliable)", a.Config.Queue.Backend)
				}
				n, err := r.Reclaim(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Printf("requeued %d job(s)\n", n)
				return nil
			})
		},
	}
}
