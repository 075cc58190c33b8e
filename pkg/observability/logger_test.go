package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"ERROR", ErrorLevel},
		{"nonsense", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.input), "input %q", tt.input)
	}
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("user_id", "aaaa").WithSession("s1").Info("session closed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session closed", entry["msg"])
	assert.Equal(t, "aaaa", entry["user_id"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warnf("kept: %d", 7)
	assert.Contains(t, buf.String(), "kept: 7")
}

func TestWithErrorNil(t *testing.T) {
	logger := NopLogger()
	assert.Same(t, logger, logger.WithError(nil))
}

func TestWithErrorAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(fmt.Errorf("boom")).Error("write failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["error"])
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger := NopLogger()
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "test_op")
		panic("boom")
	})
	assert.Contains(t, buf.String(), "test_op")
}

func TestRecoverPanicCallback(t *testing.T) {
	called := false
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "test_op", func() {
			called = true
		})
		panic("boom")
	}()
	assert.True(t, called)
}
