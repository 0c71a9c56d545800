package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			WebhookPath:  "/webhook",
			MaxBodyBytes: 1 << 20,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Mode:           "cloud",
				BaseURL:        "https://graph.facebook.com",
				APIVersion:     "v18.0",
				SendTimeoutSec: 10,
				RatePerSecond:  20,
				Burst:          5,
			},
		},
		Queue: QueueConfig{
			Backend:                  "redis",
			Name:                     "hlas_chat_queue",
			VisibilityTimeoutSec:     300,
			ReclaimIntervalSec:       30,
			PostgresPollIntervalMsec: 1000,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.chatqueue/sessions.db",
		},
		Sessions: SessionsConfig{
			Backend:        "redis",
			Dir:            "~/.chatqueue/sessions",
			RetentionHours: 24,
			SweepSchedule:  "@hourly",
		},
		RateLimit: RateLimitConfig{
			Backend:   "redis",
			WindowSec: 60,
			Capacity:  10,
		},
		Ingress: IngressConfig{
			ChannelPrefix:   "whatsapp",
			MaxMessageChars: 4096,
			DedupeTTLMin:    20,
			DedupeMax:       5000,
		},
		Worker: WorkerConfig{
			Concurrency:            1,
			PopTimeoutSec:          5,
			OrchestratorTimeoutSec: 60,
			MaxReplyChars:          4096,
			TruncateReplyAt:        4090,
		},
		Fallback: FallbackConfig{
			Selection:       "random",
			GlobalThreshold: 5,
			AgentThreshold:  3,
		},
		Orchestrator: OrchestratorConfig{
			Provider:   "http",
			TimeoutSec: 60,
			OpenAI: OpenAIOrchestrator{
				Model: "gpt-4o-mini",
			},
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "chatqueue",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults (plus env).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; CHATQUEUE_* wins over legacy names.
func (c *Config) applyEnvOverrides() {
	envStr := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}
	envInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Secrets
	envStr(&c.Channels.WhatsApp.VerifyToken, "CHATQUEUE_WHATSAPP_VERIFY_TOKEN", "META_VERIFY_TOKEN")
	envStr(&c.Channels.WhatsApp.AccessToken, "CHATQUEUE_WHATSAPP_ACCESS_TOKEN", "META_ACCESS_TOKEN")
	envStr(&c.Channels.WhatsApp.PhoneNumberID, "CHATQUEUE_WHATSAPP_PHONE_NUMBER_ID", "META_PHONE_NUMBER_ID")
	envStr(&c.Redis.URL, "CHATQUEUE_REDIS_URL", "REDIS_URL")
	envStr(&c.Database.PostgresDSN, "CHATQUEUE_POSTGRES_DSN")
	envStr(&c.Orchestrator.Token, "CHATQUEUE_ORCHESTRATOR_TOKEN")
	envStr(&c.Orchestrator.OpenAI.APIKey, "CHATQUEUE_OPENAI_API_KEY", "OPENAI_API_KEY")

	// Gateway
	envStr(&c.Gateway.Host, "CHATQUEUE_HOST")
	envInt(&c.Gateway.Port, "CHATQUEUE_PORT")
	envStr(&c.Channels.WhatsApp.Mode, "CHATQUEUE_WHATSAPP_MODE")
	envStr(&c.Channels.WhatsApp.BridgeURL, "CHATQUEUE_WHATSAPP_BRIDGE_URL")

	// Backends
	envStr(&c.Queue.Backend, "CHATQUEUE_QUEUE_BACKEND")
	envStr(&c.Queue.Name, "CHATQUEUE_QUEUE_NAME")
	envBool(&c.Queue.Reliable, "CHATQUEUE_QUEUE_RELIABLE")
	envStr(&c.Sessions.Backend, "CHATQUEUE_SESSIONS_BACKEND")
	envStr(&c.RateLimit.Backend, "CHATQUEUE_RATE_LIMIT_BACKEND")
	envStr(&c.Database.SQLitePath, "CHATQUEUE_SQLITE_PATH")

	// Worker & orchestrator
	envInt(&c.Worker.Concurrency, "CHATQUEUE_WORKER_CONCURRENCY")
	envInt(&c.Worker.OrchestratorTimeoutSec, "CHATQUEUE_ORCHESTRATOR_TIMEOUT_SEC")
	envStr(&c.Orchestrator.Provider, "CHATQUEUE_ORCHESTRATOR_PROVIDER")
	envStr(&c.Orchestrator.URL, "CHATQUEUE_ORCHESTRATOR_URL")
	envStr(&c.Orchestrator.OpenAI.Model, "CHATQUEUE_OPENAI_MODEL")
	envStr(&c.Fallback.ResponsesFile, "CHATQUEUE_FALLBACK_RESPONSES_FILE")

	// Telemetry & logging
	envBool(&c.Telemetry.Enabled, "CHATQUEUE_TELEMETRY_ENABLED")
	envBool(&c.Telemetry.Insecure, "CHATQUEUE_TELEMETRY_INSECURE")
	envStr(&c.Telemetry.Endpoint, "CHATQUEUE_TELEMETRY_ENDPOINT")
	envStr(&c.Telemetry.Protocol, "CHATQUEUE_TELEMETRY_PROTOCOL")
	envStr(&c.Telemetry.ServiceName, "CHATQUEUE_TELEMETRY_SERVICE_NAME")
	envStr(&c.Logging.Level, "CHATQUEUE_LOG_LEVEL")
	envStr(&c.Logging.Format, "CHATQUEUE_LOG_FORMAT")
}

// Validate rejects values the processes cannot run with.
func (c *Config) Validate() error {
	oneOf := func(field, v string, allowed ...string) error {
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fmt.Errorf("config: %s must be one of %s, got %q", field, strings.Join(allowed, ", "), v)
	}

	checks := []error{
		oneOf("queue.backend", c.Queue.Backend, "redis", "postgres", "memory"),
		oneOf("sessions.backend", c.Sessions.Backend, "memory", "file", "redis", "postgres", "sqlite"),
		oneOf("rate_limit.backend", c.RateLimit.Backend, "memory", "redis"),
		oneOf("channels.whatsapp.mode", c.Channels.WhatsApp.Mode, "cloud", "bridge"),
		oneOf("orchestrator.provider", c.Orchestrator.Provider, "http", "openai"),
		oneOf("fallback.selection", c.Fallback.Selection, "random", "rotate"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	switch {
	case c.RateLimit.WindowSec <= 0 || c.RateLimit.Capacity <= 0:
		return fmt.Errorf("config: rate_limit window_sec and capacity must be positive")
	case c.Worker.TruncateReplyAt <= 0 || c.Worker.TruncateReplyAt > c.Worker.MaxReplyChars:
		return fmt.Errorf("config: worker.truncate_reply_at must be in (0, max_reply_chars]")
	case c.Queue.Name == "":
		return fmt.Errorf("config: queue.name is required")
	case c.Queue.Backend != "memory" && c.SessionsProcessLocal():
		// Error counts must be shared by every worker process.
		return fmt.Errorf("config: sessions.backend %q is process-local and cannot be used with queue.backend %q (use redis, postgres or sqlite)",
			c.Sessions.Backend, c.Queue.Backend)
	}
	return nil
}

// SessionsProcessLocal reports whether the session store lives inside one
// process and cannot be seen by others.
func (c *Config) SessionsProcessLocal() bool {
	return c.Sessions.Backend == "memory" || c.Sessions.Backend == "file"
}

// SingleProcess reports whether the gateway must also run the workers:
// the memory queue is only reachable from the process that owns it.
func (c *Config) SingleProcess() bool {
	return c.Queue.Backend == "memory"
}

// NeedsRedis reports whether any configured backend talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Queue.Backend == "redis" || c.Sessions.Backend == "redis" || c.RateLimit.Backend == "redis"
}

// NeedsPostgres reports whether any configured backend talks to Postgres.
func (c *Config) NeedsPostgres() bool {
	return c.Queue.Backend == "postgres" || c.Sessions.Backend == "postgres"
}

// Save writes the non-secret part of the config as indented JSON.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
