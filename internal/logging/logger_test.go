package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name: "explicit debug level",
			config: &Config{
				Level:  LevelDebug,
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}
}

func TestLoggerFormatArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("registered client", "local_id", 3, "binding", "Vector")
	output := buf.String()
	if !strings.Contains(output, "local_id=3") {
		t.Errorf("expected local_id=3 in output, got: %s", output)
	}
	if !strings.Contains(output, "binding=Vector") {
		t.Errorf("expected binding=Vector in output, got: %s", output)
	}
}

func TestLoggerfVariants(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Errorf("failed after %d retries", 3)
	if !strings.Contains(buf.String(), "failed after 3 retries") {
		t.Errorf("expected formatted message, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	t.Cleanup(func() { SetDefault(NewLogger(DefaultConfig())) })

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") || !strings.Contains(output, "key=value") {
		t.Errorf("expected debug message with key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
