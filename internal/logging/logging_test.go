package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithLogger(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))

	base := context.Background()
	assert.Equal(t, base, ContextWithLogger(base, nil))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn, "service", "meetings")
	logger.Info("dropped")
	logger.Warn("kept", "count", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "meetings", entry["service"])
	assert.EqualValues(t, 2, entry["count"])
}

func TestScoped(t *testing.T) {
	t.Parallel()

	var fallbackBuf, requestBuf bytes.Buffer
	fallback := New(&fallbackBuf, slog.LevelInfo)

	Scoped(context.Background(), fallback, "service", "MeetingService", "CompleteMeeting", "meeting_id", "m-1").Info("done")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(fallbackBuf.Bytes(), &entry))
	assert.Equal(t, "MeetingService", entry["service"])
	assert.Equal(t, "CompleteMeeting", entry["operation"])
	assert.Equal(t, "m-1", entry["meeting_id"])

	request := New(&requestBuf, slog.LevelInfo, "request_id", 7)
	ctx := ContextWithLogger(context.Background(), request)
	Scoped(ctx, fallback, "handler", "TaskHandler", "").Info("listed")

	entry = nil
	require.NoError(t, json.Unmarshal(requestBuf.Bytes(), &entry))
	assert.Equal(t, "TaskHandler", entry["handler"])
	assert.EqualValues(t, 7, entry["request_id"])
	assert.NotContains(t, entry, "operation")

	assert.Same(t, slog.Default(), OrDefault(nil))
}
