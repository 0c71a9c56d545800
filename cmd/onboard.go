package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatqueue/internal/config"
)

// onboardAnswers collects the wizard's input before it is applied.
type onboardAnswers struct {
	Mode          string
	PhoneNumberID string
	AccessToken   string
	BridgeURL     string
	VerifyToken   string
	QueueBackend  string
	Sessions      string
	RateLimit     string
	RedisURL      string
	PostgresDSN   string
	Provider      string
	OrchURL       string
	OpenAIKey     string
	Concurrency   string
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfgPath := resolveConfigPath()
	ans := onboardAnswers{
		Mode:         "cloud",
		VerifyToken:  onboardGenerateToken(16),
		QueueBackend: "redis",
		Sessions:     "redis",
		RateLimit:    "redis",
		Provider:     "http",
		Concurrency:  "4",
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("WhatsApp delivery").
				Options(
					huh.NewOption("Meta Cloud API", "cloud"),
					huh.NewOption("WebSocket bridge", "bridge"),
				).
				Value(&ans.Mode),
			huh.NewInput().
				Title("Webhook verify token").
				Description("Must match the token entered in the Meta app dashboard").
				Value(&ans.VerifyToken),
		),
		huh.NewGroup(
			huh.NewInput().Title("Phone number ID").Value(&ans.PhoneNumberID),
			huh.NewInput().Title("Access token").EchoMode(huh.EchoModePassword).Value(&ans.AccessToken),
		).WithHideFunc(func() bool { return ans.Mode != "cloud" }),
		huh.NewGroup(
			huh.NewInput().Title("Bridge URL").Placeholder("ws://localhost:3001").Value(&ans.BridgeURL),
		).WithHideFunc(func() bool { return ans.Mode != "bridge" }),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Job queue").
				Options(
					huh.NewOption("Redis list", "redis"),
					huh.NewOption("Postgres table", "postgres"),
					huh.NewOption("In-process (gateway runs the workers)", "memory"),
				).
				Value(&ans.QueueBackend),
			huh.NewSelect[string]().
				Title("Session store").
				Options(
					huh.NewOption("Redis", "redis"),
					huh.NewOption("Postgres", "postgres"),
					huh.NewOption("SQLite file", "sqlite"),
					huh.NewOption("JSON files (in-process queue only)", "file"),
					huh.NewOption("In memory (in-process queue only)", "memory"),
				).
				Value(&ans.Sessions),
			huh.NewSelect[string]().
				Title("Rate limiter").
				Options(
					huh.NewOption("Redis (shared across gateways)", "redis"),
					huh.NewOption("In memory", "memory"),
				).
				Value(&ans.RateLimit),
		),
		huh.NewGroup(
			huh.NewInput().Title("Redis URL").Placeholder("redis://localhost:6379/0").Value(&ans.RedisURL),
		).WithHideFunc(func() bool { return !ans.needsRedis() }),
		huh.NewGroup(
			huh.NewInput().Title("Postgres DSN").EchoMode(huh.EchoModePassword).Value(&ans.PostgresDSN),
		).WithHideFunc(func() bool { return !ans.needsPostgres() }),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Conversation orchestrator").
				Options(
					huh.NewOption("HTTP service", "http"),
					huh.NewOption("OpenAI Responses API", "openai"),
				).
				Value(&ans.Provider),
			huh.NewInput().
				Title("Worker concurrency").
				Validate(validatePositiveInt).
				Value(&ans.Concurrency),
		),
		huh.NewGroup(
			huh.NewInput().Title("Orchestrator URL").Placeholder("http://localhost:8000/chat").Value(&ans.OrchURL),
		).WithHideFunc(func() bool { return ans.Provider != "http" }),
		huh.NewGroup(
			huh.NewInput().Title("OpenAI API key").EchoMode(huh.EchoModePassword).Value(&ans.OpenAIKey),
		).WithHideFunc(func() bool { return ans.Provider != "openai" }),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
	}
	if err := ans.apply(cfg); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
	if err := writeEnvFile(envPath, ans.secrets()); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", cfgPath)
	fmt.Printf("Secrets written to %s\n", envPath)
	fmt.Println()
	fmt.Printf("  source %s && ./chatqueue gateway\n", envPath)
	fmt.Printf("  source %s && ./chatqueue worker\n", envPath)
	return nil
}

func (a onboardAnswers) needsRedis() bool {
	return a.QueueBackend == "redis" || a.Sessions == "redis" || a.RateLimit == "redis"
}

func (a onboardAnswers) needsPostgres() bool {
	return a.QueueBackend == "postgres" || a.Sessions == "postgres"
}

// apply copies the non-secret answers into cfg and validates the result.
func (a onboardAnswers) apply(cfg *config.Config) error {
	cfg.Channels.WhatsApp.Mode = a.Mode
	cfg.Channels.WhatsApp.PhoneNumberID = strings.TrimSpace(a.PhoneNumberID)
	cfg.Channels.WhatsApp.BridgeURL = strings.TrimSpace(a.BridgeURL)
	cfg.Queue.Backend = a.QueueBackend
	cfg.Sessions.Backend = a.Sessions
	cfg.RateLimit.Backend = a.RateLimit
	cfg.Orchestrator.Provider = a.Provider
	cfg.Orchestrator.URL = strings.TrimSpace(a.OrchURL)
	if n, err := parsePositiveInt(a.Concurrency); err == nil {
		cfg.Worker.Concurrency = n
	}
	return cfg.Validate()
}

// secrets returns the env lines for values that never go into config.json.
func (a onboardAnswers) secrets() map[string]string {
	env := map[string]string{
		"CHATQUEUE_WHATSAPP_VERIFY_TOKEN": a.VerifyToken,
		"CHATQUEUE_WHATSAPP_ACCESS_TOKEN": a.AccessToken,
		"CHATQUEUE_REDIS_URL":             a.RedisURL,
		"CHATQUEUE_POSTGRES_DSN":          a.PostgresDSN,
		"CHATQUEUE_OPENAI_API_KEY":        a.OpenAIKey,
	}
	for k, v := range env {
		if strings.TrimSpace(v) == "" {
			delete(env, k)
		}
	}
	return env
}

func writeEnvFile(path string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%q\n", k, strings.TrimSpace(env[k]))
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

func validatePositiveInt(s string) error {
	_, err := parsePositiveInt(s)
	return err
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("enter a positive number")
	}
	return n, nil
}

func onboardGenerateToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
