package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCaptureLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{
		Level:      level,
		Output:     &buf,
		JSONFormat: true,
	})
	return logger, &buf
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestWithRequestID(t *testing.T) {
	logger, buf := newCaptureLogger(slog.LevelInfo)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	logger.WithRequestID(ctx).Info("handling request")

	entry := lastLogLine(t, buf)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "handling request", entry["msg"])
}

func TestWithRequestID_NoIDInContext(t *testing.T) {
	logger, buf := newCaptureLogger(slog.LevelInfo)

	logger.WithRequestID(context.Background()).Info("background work")

	entry := lastLogLine(t, buf)
	assert.NotContains(t, entry, "request_id")
}

func TestWithFields(t *testing.T) {
	logger, buf := newCaptureLogger(slog.LevelInfo)

	logger.WithFields("component", "cache").Info("store ready")

	entry := lastLogLine(t, buf)
	assert.Equal(t, "cache", entry["component"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := newCaptureLogger(slog.LevelWarn)

	logger.Info("ignored")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	entry := lastLogLine(t, buf)
	assert.Equal(t, "kept", entry["msg"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{" info ", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}
