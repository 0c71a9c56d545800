package config

import "time"

// Config is the root configuration shared by the gateway and worker processes.
type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Channels     ChannelsConfig     `json:"channels"`
	Queue        QueueConfig        `json:"queue"`
	Redis        RedisConfig        `json:"redis,omitempty"`
	Database     DatabaseConfig     `json:"database,omitempty"`
	Sessions     SessionsConfig     `json:"sessions"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Ingress      IngressConfig      `json:"ingress"`
	Worker       WorkerConfig       `json:"worker"`
	Fallback     FallbackConfig     `json:"fallback"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Telemetry    TelemetryConfig    `json:"telemetry,omitempty"`
	Logging      LoggingConfig      `json:"logging,omitempty"`
}

// GatewayConfig configures the webhook HTTP listener.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	WebhookPath  string `json:"webhook_path,omitempty"`   // default "/webhook"
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"` // default 1 MiB
}

// RedisConfig locates the Redis server used for the queue, sessions and
// rate limiting. The URL is a secret: env CHATQUEUE_REDIS_URL or REDIS_URL only.
type RedisConfig struct {
	URL string `json:"-"`
}

// DatabaseConfig configures SQL-backed stores.
// PostgresDSN is NEVER read from the config file, only from env CHATQUEUE_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"` // default ~/.chatqueue/sessions.db
}

// QueueConfig selects and tunes the job queue.
type QueueConfig struct {
	Backend                  string `json:"backend"` // "redis" (default), "postgres", "memory" (gateway runs the workers)
	Name                     string `json:"name"`    // list / channel name
	Reliable                 bool   `json:"reliable,omitempty"`
	VisibilityTimeoutSec     int    `json:"visibility_timeout_sec,omitempty"`
	ReclaimIntervalSec       int    `json:"reclaim_interval_sec,omitempty"`
	PostgresPollIntervalMsec int    `json:"postgres_poll_interval_msec,omitempty"`
}

// SessionsConfig selects the session store and its retention policy.
type SessionsConfig struct {
	Backend        string `json:"backend"`       // "redis" (default), "postgres", "sqlite"; "memory" and "file" only with the memory queue
	Dir            string `json:"dir,omitempty"` // "file" backend directory, default ~/.chatqueue/sessions
	RetentionHours int    `json:"retention_hours,omitempty"`
	SweepSchedule  string `json:"sweep_schedule,omitempty"` // cron expression, "" disables
}

// RateLimitConfig configures per-sender admission control.
type RateLimitConfig struct {
	Backend   string `json:"backend"` // "redis" (default) or "memory" (single gateway)
	WindowSec int    `json:"window_sec"`
	Capacity  int    `json:"capacity"`
}

// IngressConfig tunes the webhook producer.
type IngressConfig struct {
	ChannelPrefix   string `json:"channel_prefix"`
	MaxMessageChars int    `json:"max_message_chars"`
	DedupeTTLMin    int    `json:"dedupe_ttl_min,omitempty"` // 0 disables deduplication
	DedupeMax       int    `json:"dedupe_max,omitempty"`
}

// WorkerConfig tunes the consumer loop.
type WorkerConfig struct {
	Concurrency            int `json:"concurrency"`
	PopTimeoutSec          int `json:"pop_timeout_sec"`
	OrchestratorTimeoutSec int `json:"orchestrator_timeout_sec"` // 0 = no deadline
	MaxReplyChars          int `json:"max_reply_chars"`
	TruncateReplyAt        int `json:"truncate_reply_at"`
}

// FallbackConfig tunes canned replies and escalation.
type FallbackConfig struct {
	Selection       string `json:"selection,omitempty"`      // "random" (default) or "rotate"
	ResponsesFile   string `json:"responses_file,omitempty"` // optional JSON5 override, hot-reloaded
	GlobalThreshold int    `json:"global_threshold"`
	AgentThreshold  int    `json:"agent_threshold"`
}

// OrchestratorConfig selects the conversation orchestrator adapter.
type OrchestratorConfig struct {
	Provider   string             `json:"provider"` // "http" (default) or "openai"
	URL        string             `json:"url,omitempty"`
	Token      string             `json:"-"` // env CHATQUEUE_ORCHESTRATOR_TOKEN
	TimeoutSec int                `json:"timeout_sec,omitempty"`
	OpenAI     OpenAIOrchestrator `json:"openai,omitempty"`
}

// OpenAIOrchestrator configures the OpenAI Responses adapter.
type OpenAIOrchestrator struct {
	APIKey       string `json:"-"` // env CHATQUEUE_OPENAI_API_KEY or OPENAI_API_KEY
	BaseURL      string `json:"base_url,omitempty"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// TelemetryConfig configures OpenTelemetry OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS (local collectors)
	ServiceName string            `json:"service_name,omitempty"` // default "chatqueue"
	Headers     map[string]string `json:"headers,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info (default), warn, error
	Format string `json:"format,omitempty"` // text (default) or json
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// RateLimitWindow returns the sliding window length.
func (c *Config) RateLimitWindow() time.Duration { return seconds(c.RateLimit.WindowSec) }

// VisibilityTimeout returns how long a leased job may stay unacknowledged.
func (c *Config) VisibilityTimeout() time.Duration { return seconds(c.Queue.VisibilityTimeoutSec) }

// ReclaimInterval returns how often expired leases are requeued.
func (c *Config) ReclaimInterval() time.Duration { return seconds(c.Queue.ReclaimIntervalSec) }

// PopTimeout returns how long a worker blocks on the queue per pop.
func (c *Config) PopTimeout() time.Duration { return seconds(c.Worker.PopTimeoutSec) }

// OrchestratorTimeout returns the per-job orchestrator deadline (0 = none).
func (c *Config) OrchestratorTimeout() time.Duration {
	return seconds(c.Worker.OrchestratorTimeoutSec)
}

// SessionRetention returns how long an idle session is kept.
func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.Sessions.RetentionHours) * time.Hour
}

// DedupeTTL returns how long a gateway message id is remembered.
func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.Ingress.DedupeTTLMin) * time.Minute
}
