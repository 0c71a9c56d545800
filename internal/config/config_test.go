package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow())
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
	assert.Equal(t, 4096, cfg.Ingress.MaxMessageChars)
	assert.Equal(t, 4090, cfg.Worker.TruncateReplyAt)
	assert.Equal(t, "hlas_chat_queue", cfg.Queue.Name)
	assert.Equal(t, "whatsapp", cfg.Ingress.ChannelPrefix)
	assert.Equal(t, 5, cfg.Fallback.GlobalThreshold)
	assert.Equal(t, 3, cfg.Fallback.AgentThreshold)
}

func TestLoad_JSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// comments and trailing commas are fine
		queue: { backend: "memory", name: "jobs", },
		worker: { concurrency: 4 },
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, "jobs", cfg.Queue.Name)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	// Untouched sections keep their defaults.
	assert.Equal(t, 4096, cfg.Worker.MaxReplyChars)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("META_VERIFY_TOKEN", "legacy-verify")
	t.Setenv("META_ACCESS_TOKEN", "legacy-access")
	t.Setenv("CHATQUEUE_WHATSAPP_ACCESS_TOKEN", "new-access")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CHATQUEUE_WORKER_CONCURRENCY", "3")
	t.Setenv("CHATQUEUE_QUEUE_RELIABLE", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "legacy-verify", cfg.Channels.WhatsApp.VerifyToken)
	assert.Equal(t, "new-access", cfg.Channels.WhatsApp.AccessToken)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.True(t, cfg.Queue.Reliable)
}

func TestLoad_InvalidBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{queue: {backend: "kafka"}}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.backend")
}

func TestValidate_TruncateBounds(t *testing.T) {
	cfg := Default()
	cfg.Worker.TruncateReplyAt = 5000
	assert.Error(t, cfg.Validate())
}

func TestSave_OmitsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Channels.WhatsApp.AccessToken = "secret-token"
	cfg.Database.PostgresDSN = "postgres://u:p@h/db"

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-token")
	assert.NotContains(t, string(data), "postgres://")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Queue, loaded.Queue)
}

func TestNeedsRedis(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.NeedsRedis())
	assert.Equal(t, "redis", cfg.Sessions.Backend)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)

	cfg.Queue.Backend = "memory"
	cfg.Sessions.Backend = "memory"
	cfg.RateLimit.Backend = "memory"
	assert.False(t, cfg.NeedsRedis())
	cfg.RateLimit.Backend = "redis"
	assert.True(t, cfg.NeedsRedis())
}

func TestValidate_SessionsSharedAcrossProcesses(t *testing.T) {
	tests := []struct {
		queue, sessions string
		ok              bool
	}{
		{"redis", "redis", true},
		{"redis", "postgres", true},
		{"postgres", "sqlite", true},
		{"redis", "memory", false},
		{"postgres", "file", false},
		{"memory", "memory", true},
		{"memory", "file", true},
	}
	for _, tt := range tests {
		t.Run(tt.queue+"/"+tt.sessions, func(t *testing.T) {
			cfg := Default()
			cfg.Queue.Backend = tt.queue
			cfg.Sessions.Backend = tt.sessions
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "process-local")
			}
		})
	}
}

func TestSingleProcess(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.SingleProcess())
	cfg.Queue.Backend = "memory"
	assert.True(t, cfg.SingleProcess())
}
