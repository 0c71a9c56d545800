package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatqueue/internal/app"
	"github.com/nextlevelbuilder/chatqueue/internal/config"
	"github.com/nextlevelbuilder/chatqueue/internal/dbmigrate"
	"github.com/nextlevelbuilder/chatqueue/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and backend connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("chatqueue doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  WhatsApp:")
	wa := cfg.Channels.WhatsApp
	fmt.Printf("    %-14s %s\n", "Mode:", wa.Mode)
	checkSecret("Verify token:", wa.VerifyToken)
	if wa.Mode == "bridge" {
		fmt.Printf("    %-14s %s\n", "Bridge URL:", orNotSet(wa.BridgeURL))
	} else {
		checkSecret("Access token:", wa.AccessToken)
		fmt.Printf("    %-14s %s\n", "Phone ID:", orNotSet(wa.PhoneNumberID))
	}

	fmt.Println()
	fmt.Println("  Orchestrator:")
	fmt.Printf("    %-14s %s\n", "Provider:", cfg.Orchestrator.Provider)
	if cfg.Orchestrator.Provider == "openai" {
		checkSecret("API key:", cfg.Orchestrator.OpenAI.APIKey)
		fmt.Printf("    %-14s %s\n", "Model:", cfg.Orchestrator.OpenAI.Model)
	} else {
		fmt.Printf("    %-14s %s\n", "URL:", orNotSet(cfg.Orchestrator.URL))
		checkSecret("Token:", cfg.Orchestrator.Token)
	}

	fmt.Println()
	fmt.Println("  Backends:")
	fmt.Printf("    %-14s %s\n", "Queue:", cfg.Queue.Backend)
	fmt.Printf("    %-14s %s\n", "Sessions:", cfg.Sessions.Backend)
	fmt.Printf("    %-14s %s\n", "Rate limit:", cfg.RateLimit.Backend)

	if cfg.NeedsRedis() {
		checkRedis(ctx, cfg.Redis.URL)
	}
	if cfg.NeedsPostgres() {
		checkPostgres(cfg.Database.PostgresDSN)
	}
	if cfg.Sessions.Backend == "sqlite" {
		checkSQLite(config.ExpandHome(cfg.Database.SQLitePath))
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkRedis(ctx context.Context, url string) {
	client, err := app.NewRedisClient(url)
	if err != nil {
		fmt.Printf("    %-14s INVALID URL (%s)\n", "Redis:", err)
		return
	}
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		fmt.Printf("    %-14s CONNECT FAILED (%s)\n", "Redis:", err)
		return
	}
	fmt.Printf("    %-14s OK (%s)\n", "Redis:", client.Options().Addr)
}

func checkPostgres(dsn string) {
	db, err := pg.OpenDB(dsn)
	if err != nil {
		fmt.Printf("    %-14s CONNECT FAILED (%s)\n", "Postgres:", err)
		return
	}
	db.Close()
	fmt.Printf("    %-14s OK\n", "Postgres:")

	m, err := dbmigrate.NewPostgres(dsn)
	if err != nil {
		fmt.Printf("    %-14s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	defer m.Close()
	s, err := dbmigrate.Status(m, dbmigrate.PostgresSchemaVersion)
	if err != nil {
		fmt.Printf("    %-14s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	fmt.Printf("    %-14s %s\n", "Schema:", s.Describe())
}

func checkSQLite(path string) {
	fmt.Printf("    %-14s %s\n", "SQLite:", path)
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-14s not created yet\n", "Schema:")
		return
	}
	m, err := dbmigrate.NewSQLite(path)
	if err != nil {
		fmt.Printf("    %-14s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	defer m.Close()
	s, err := dbmigrate.Status(m, dbmigrate.SQLiteSchemaVersion)
	if err != nil {
		fmt.Printf("    %-14s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	fmt.Printf("    %-14s %s\n", "Schema:", s.Describe())
}

func checkSecret(label, value string) {
	fmt.Printf("    %-14s %s\n", label, maskSecret(value))
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "(not configured)"
	case len(s) <= 8:
		return strings.Repeat("*", len(s))
	default:
		return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
