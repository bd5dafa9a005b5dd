package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel(" warning "))
	assert.Equal(t, ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
}

func TestLogger_LogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{
		Level:      DebugLevel,
		Output:     &buf,
		TimeFormat: "2006-01-02 15:04:05",
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		logFunc  func()
		contains []string
	}{
		{
			name:     "debug log",
			logFunc:  func() { logger.Debug("debug message", Field{"key", "value"}) },
			contains: []string{"DEBUG", "debug message", "value"},
		},
		{
			name:     "info log",
			logFunc:  func() { logger.Info("info message", Int("count", 42)) },
			contains: []string{"INFO", "info message", "42"},
		},
		{
			name:     "warn log",
			logFunc:  func() { logger.Warn("warning message", Bool("flag", true)) },
			contains: []string{"WARN", "warning message", "true"},
		},
		{
			name: "error log",
			logFunc: func() {
				logger.Error("error message", errors.New("test error"), Field{"code", 500})
			},
			contains: []string{"ERROR", "error message", "test error", "500"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc()

			output := buf.String()
			for _, s := range tt.contains {
				assert.Contains(t, output, s)
			}
		})
	}
}

func TestLogger_LogFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
	require.NoError(t, err)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", errors.New("test error"))

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	enriched := logger.WithFields(
		String("component", "poller"),
		Duration("interval", 5*time.Minute),
	)
	enriched.Info("cycle started", String("listing", "https://api.example.com"))

	output := buf.String()
	assert.Contains(t, output, "poller")
	assert.Contains(t, output, "cycle started")
	assert.Contains(t, output, "https://api.example.com")

	assert.Same(t, logger, logger.WithFields())
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	ctx := ContextWithCycleID(context.Background(), "cycle-123")
	ctx = ContextWithRecordingID(ctx, "rec-456")

	logger.WithContext(ctx).Info("context message")

	output := buf.String()
	assert.Contains(t, output, "cycle-123")
	assert.Contains(t, output, "rec-456")

	id, ok := CycleIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "cycle-123", id)
}

func TestLogger_WithContext_MissingValues(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestInitGlobalLogger_File(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "relay.log")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", logFile)

	previous := GetGlobalLogger()
	defer SetGlobalLogger(previous)

	InitGlobalLogger()
	Info("written to file", String("k", "v"))
	MustSync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Logger initialized")
	assert.Contains(t, string(data), "written to file")
}

func TestOrGlobal(t *testing.T) {
	nop := NewNopLogger()
	assert.Same(t, nop, OrGlobal(nop))
	assert.NotNil(t, OrGlobal(nil))
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	cl := NewCronLogger(logger)
	cl.Info("schedule", "entry", 1, "next", "soon")
	cl.Error(errors.New("job panicked"), "panic", "odd")

	output := buf.String()
	assert.Contains(t, output, "schedule")
	assert.Contains(t, output, "soon")
	assert.Contains(t, output, "job panicked")
	assert.Contains(t, output, "odd")
}
