package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatqueue/internal/app"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and prune conversation sessions",
	}
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsStatsCmd())
	cmd.AddCommand(sessionsSweepCmd())
	return cmd
}

func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Open(cmd.Context(), cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print one session's error counters and context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Sessions.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
}

func sessionsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count sessions and sessions with errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Sessions.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
}

func sessionsSweepCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions idle longer than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if olderThan <= 0 {
				olderThan = a.Config.SessionRetention()
			}
			if olderThan <= 0 {
				return fmt.Errorf("no retention configured; pass --older-than")
			}
			n, err := a.Sessions.Sweep(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("removed %d session(s) idle longer than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "idle age to prune (default: sessions.retention_hours)")
	return cmd
}
