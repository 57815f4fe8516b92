package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestDefaultConfigs(t *testing.T) {
	dev := DefaultConfig()
	assert.Equal(t, "info", dev.Level)
	assert.Equal(t, "console", dev.Format)
	assert.Equal(t, "stdout", dev.Output)

	prod := ProductionConfig()
	assert.Equal(t, "json", prod.Format)
	assert.NotEmpty(t, prod.TimeFormat)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestNew_WritesJSONToFile(t *testing.T) {
	// GIVEN: a JSON logger writing to a temp file
	path := filepath.Join(t.TempDir(), "billing.log")
	logger, err := New(&Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	// WHEN: an event is logged
	logger.Named("invoices").Info("invoice issued", zap.String("invoice_number", "INV-202601-0001"))
	require.NoError(t, logger.Sync())

	// THEN: the file holds one JSON line with the fields
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "invoices", entry["logger"])
	assert.Equal(t, "invoice issued", entry["msg"])
	assert.Equal(t, "INV-202601-0001", entry["invoice_number"])
}

func TestNew_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	logger, err := New(&Config{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestNewForEnvironment(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		logger, err := NewForEnvironment(env)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}
}

func TestNew_UnopenableOutput(t *testing.T) {
	// GIVEN: an output path inside a directory that does not exist
	path := filepath.Join(t.TempDir(), "missing", "billing.log")

	// WHEN: the logger is built
	logger, err := New(&Config{Format: "json", Output: path})

	// THEN: the open error is returned instead of falling back to stdout
	assert.Error(t, err)
	assert.Nil(t, logger)
}
