package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// LogEntry mirrors the slog JSON handler output for assertions
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"msg"`
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if buf.Len() == 0 {
			t.Error("Info message should be logged at Info level")
		}

		var entry LogEntry
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("Failed to unmarshal log entry: %v", err)
		}

		if entry.Level != "INFO" {
			t.Errorf("Expected level INFO, got %s", entry.Level)
		}
		if entry.Message != "info message" {
			t.Errorf("Expected message 'info message', got %s", entry.Message)
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("facility_id", "abc-123").Info("message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}

	if entry["facility_id"] != "abc-123" {
		t.Errorf("Expected facility_id abc-123, got %v", entry["facility_id"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("boom")).Error("failed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}

	if entry["error"] != "boom" {
		t.Errorf("Expected error field 'boom', got %v", entry["error"])
	}

	t.Run("nil error is a no-op", func(t *testing.T) {
		if logger.WithError(nil) != logger {
			t.Error("WithError(nil) should return the same logger")
		}
	})
}

func TestLogger_ContextPlumbing(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithRunID(ctx, "run-7")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("Expected request ID req-1, got %s", got)
	}
	if got := GetRunID(ctx); got != "run-7" {
		t.Errorf("Expected run ID run-7, got %s", got)
	}

	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.FromContext(ctx).Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("Expected request_id req-1, got %v", entry["request_id"])
	}
	if entry["run_id"] != "run-7" {
		t.Errorf("Expected run_id run-7, got %v", entry["run_id"])
	}
}

func TestLogLevel_String(t *testing.T) {
	levels := map[LogLevel]string{
		DebugLevel: "DEBUG",
		InfoLevel:  "INFO",
		WarnLevel:  "WARN",
		ErrorLevel: "ERROR",
	}
	for level, want := range levels {
		if got := level.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %s, want %s", level, got, want)
		}
	}
}
