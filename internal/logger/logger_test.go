package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	apperrors "github.com/socialnet/backend/internal/errors"
)

func decode(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v (%s)", err, buf.String())
	}
	return entry
}

func TestLogger_BasicLogging(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelDebug, Component: "dispatcher"})

	log.Info(context.Background(), "job queued", Fields{"job_id": "j1"})

	entry := decode(t, &buf)
	if entry.Level != "info" {
		t.Errorf("expected level info, got %s", entry.Level)
	}
	if entry.Message != "job queued" {
		t.Errorf("expected message 'job queued', got %s", entry.Message)
	}
	if entry.Component != "dispatcher" {
		t.Errorf("expected component dispatcher, got %s", entry.Component)
	}
	if entry.Fields["job_id"] != "j1" {
		t.Errorf("expected field job_id=j1, got %v", entry.Fields["job_id"])
	}
}

func TestLogger_RequestIDPropagation(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelDebug})

	ctx := apperrors.WithRequestID(context.Background(), "test-request-id")
	log.Info(ctx, "test message")

	if entry := decode(t, &buf); entry.RequestID != "test-request-id" {
		t.Errorf("expected request_id 'test-request-id', got %s", entry.RequestID)
	}
}

func TestLogger_LogLevels(t *testing.T) {
	tests := []struct {
		minLevel     Level
		logLevel     string
		shouldOutput bool
	}{
		{LevelInfo, "debug", false},
		{LevelInfo, "info", true},
		{LevelWarn, "info", false},
		{LevelWarn, "warn", true},
		{LevelError, "warn", false},
		{LevelError, "error", true},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		log := New(&Config{Output: &buf, Level: tt.minLevel})

		ctx := context.Background()
		switch tt.logLevel {
		case "debug":
			log.Debug(ctx, "test")
		case "info":
			log.Info(ctx, "test")
		case "warn":
			log.Warn(ctx, "test", nil)
		case "error":
			log.Error(ctx, "test", nil)
		}

		if hasOutput := buf.Len() > 0; hasOutput != tt.shouldOutput {
			t.Errorf("minLevel=%s, logLevel=%s: expected output=%v, got=%v",
				tt.minLevel, tt.logLevel, tt.shouldOutput, hasOutput)
		}
	}
}

func TestLogger_ErrorDetails(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelInfo})

	err := fmt.Errorf("submit: %w", apperrors.QueueFull())
	log.Error(context.Background(), "submit failed", err)

	entry := decode(t, &buf)
	if entry.Error == nil {
		t.Fatal("expected error details")
	}
	if entry.Error.Code != apperrors.CodeQueueFull {
		t.Errorf("expected code %s, got %s", apperrors.CodeQueueFull, entry.Error.Code)
	}
	if entry.Caller == "" || !strings.Contains(entry.Caller, "logger_test.go") {
		t.Errorf("expected caller in logger_test.go, got %q", entry.Caller)
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Output: &buf, Level: LevelInfo})
	log := base.With(Fields{"worker": 1}).WithComponent("worker")

	log.Info(context.Background(), "started", Fields{"job_id": "j2"})

	entry := decode(t, &buf)
	if entry.Fields["worker"] != float64(1) {
		t.Errorf("expected worker=1, got %v", entry.Fields["worker"])
	}
	if entry.Fields["job_id"] != "j2" {
		t.Errorf("expected job_id=j2, got %v", entry.Fields["job_id"])
	}
	if entry.Component != "worker" {
		t.Errorf("expected component worker, got %s", entry.Component)
	}
}

func TestLogger_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Output: &buf, Level: LevelInfo})

	fields := Fields{"user_id": "u1", "access_token": "abc123", "password": "p"}
	log.Info(context.Background(), "auth", fields)

	entry := decode(t, &buf)
	if entry.Fields["user_id"] != "u1" {
		t.Errorf("user_id should not be redacted")
	}
	if entry.Fields["access_token"] != "[REDACTED]" {
		t.Errorf("access_token should be redacted, got %v", entry.Fields["access_token"])
	}
	if entry.Fields["password"] != "[REDACTED]" {
		t.Errorf("password should be redacted, got %v", entry.Fields["password"])
	}
	if fields["password"] != "p" {
		t.Errorf("caller's map must not be modified")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{"unknown", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if result := ParseLevel(tt.input); result != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
		}
	}
}
