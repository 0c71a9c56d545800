// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"github.com/nextlevelbuilder/chatqueue/internal/config"
)

// New returns a logger writing to stderr in the configured format.
func New(cfg config.LoggingConfig, verbose bool) (*slog.Logger, error) {
	return newWithWriter(cfg, verbose, os.Stderr)
}

func newWithWriter(cfg config.LoggingConfig, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		pretty := charmLog.NewWithOptions(w, charmLog.Options{
			Level:           charmLevel(level),
			ReportTimestamp: true,
			Formatter:       charmLog.TextFormatter,
		})
		return slog.New(pretty), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", s)
	}
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}
