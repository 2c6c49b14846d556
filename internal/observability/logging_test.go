package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	logger.Info("calling azure", "header", "Bearer abcdefghijklmnopqrstuvwxyz012345", "api_key", "short")

	out := buf.String()
	if strings.Contains(out, "abcdefghijklmnopqrstuvwxyz012345") {
		t.Fatalf("bearer token leaked: %s", out)
	}
	if strings.Contains(out, `"short"`) {
		t.Fatalf("api_key attribute leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker, got %s", out)
	}
}

func TestNewLoggerRedactsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	logger.Error("request failed", "error", errors.New("password=hunter2hunter2"))

	if strings.Contains(buf.String(), "hunter2hunter2") {
		t.Fatalf("error value leaked: %s", buf.String())
	}
}

func TestNewLoggerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddRequestID(context.Background(), "req-1")
	ctx = AddThreadID(ctx, "thread-9")
	logger.InfoContext(ctx, "turn started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", record["request_id"])
	}
	if record["thread_id"] != "thread-9" {
		t.Errorf("thread_id = %v, want thread-9", record["thread_id"])
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info record should be filtered: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn record missing: %s", buf.String())
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
