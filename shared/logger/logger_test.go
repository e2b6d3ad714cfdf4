package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()

	output := &bytes.Buffer{}
	cfg.writer = output

	logger, err := New(&cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
	return logger, output
}

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_JSONLevels(t *testing.T) {
	tests := []struct {
		level    string
		wantMsgs []string
	}{
		{level: "debug", wantMsgs: []string{"debug", "info", "warn", "error"}},
		{level: "info", wantMsgs: []string{"info", "warn", "error"}},
		{level: "warn", wantMsgs: []string{"warn", "error"}},
		{level: "error", wantMsgs: []string{"error"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, output := newBufferLogger(t, Config{Level: tt.level, Format: "json"})

			logger.Debug("debug")
			logger.Info("info")
			logger.Warn("warn")
			logger.Error("error", slog.Int64("job_id", 7))

			var got []string
			for _, entry := range decodeLines(t, output) {
				got = append(got, entry["msg"].(string))
				assert.Contains(t, entry, "time")
			}
			assert.Equal(t, tt.wantMsgs, got)
		})
	}
}

func TestNew_Console(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Level: "info", Format: "console", NoColor: true})

	logger.Info("Job claimed", slog.Int64("job_id", 42))

	line := output.String()
	assert.Contains(t, line, "INF")
	assert.Contains(t, line, "Job claimed")
	assert.Contains(t, line, "job_id=42")
	assert.NotContains(t, line, "\x1b[", "colors disabled")
}

func TestNew_WithSource(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Format: "json", EnableSource: true})

	logger.Info("message with source")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("Retention sweep complete", slog.Int64("deleted", 3))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Retention sweep complete"`)
	assert.Contains(t, string(data), `"deleted":3`)
}

func TestNew_FileOutputError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	logger, err := New(&Config{Output: filepath.Join(blocker, "app.log")})
	require.Error(t, err)
	assert.Nil(t, logger)
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
	assert.NoError(t, logger.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "info", expected: slog.LevelInfo},
		{level: "warn", expected: slog.LevelWarn},
		{level: "warning", expected: slog.LevelWarn},
		{level: "error", expected: slog.LevelError},
		// case-sensitive, unknown values default to info
		{level: "DEBUG", expected: slog.LevelInfo},
		{level: "invalid", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_Derived(t *testing.T) {
	logger, output := newBufferLogger(t, Config{Format: "json"})

	logger.WithGroup("job").Info("grouped", slog.String("name", "demo.task"))
	logger.WithAttrs(slog.String("worker_id", "w-1")).Info("attrs")
	logger.With("service", "worker", "version", 1).Info("kv")

	entries := decodeLines(t, output)
	require.Len(t, entries, 3)

	group := entries[0]["job"].(map[string]any)
	assert.Equal(t, "demo.task", group["name"])

	assert.Equal(t, "w-1", entries[1]["worker_id"])

	assert.Equal(t, "worker", entries[2]["service"])
	assert.Equal(t, float64(1), entries[2]["version"])
}
