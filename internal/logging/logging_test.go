package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/chatqueue/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newWithWriter(config.LoggingConfig{Format: "json"}, false, &buf)
	require.NoError(t, err)

	logger.Info("job processed", "session_id", "whatsapp_+6591234567")
	logger.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "job processed", entry["msg"])
	assert.Equal(t, "whatsapp_+6591234567", entry["session_id"])
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newWithWriter(config.LoggingConfig{Format: "text"}, true, &buf)
	require.NoError(t, err)

	logger.Debug("queue pop timeout")
	assert.Contains(t, buf.String(), "queue pop timeout")
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := newWithWriter(config.LoggingConfig{Format: "xml"}, false, &bytes.Buffer{})
	assert.Error(t, err)
}
