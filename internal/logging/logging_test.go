package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"busline/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNewWritesTaggedJSONToFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "logs", "api.log")
	logger, cleanup, err := New(config.LoggingConfig{Level: "info", Format: "json", File: file}, "api")
	require.NoError(t, err)
	logger.Info("order_created", "order_id", "order-1")
	require.NoError(t, cleanup())

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	line := strings.TrimSpace(string(raw))
	assert.Contains(t, line, `"service":"api"`)
	assert.Contains(t, line, `"msg":"order_created"`)
}
