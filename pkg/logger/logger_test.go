package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSONWithPipelineFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: slog.LevelInfo, Format: FormatJSON})

	log.Debug("hidden")
	log.Info("notification sent",
		NotificationID("n-1"),
		TicketID("t-1"),
		Phone("+27 82 123 4567"),
		Err(errors.New("boom")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "notification sent", entry["msg"])
	assert.Equal(t, "n-1", entry["notification_id"])
	assert.Equal(t, "t-1", entry["ticket_id"])
	assert.Equal(t, "*******4567", entry["phone"])
	assert.Equal(t, "boom", entry["error"])
}

func TestErr_NilIsDropped(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Output: &buf, Format: FormatText}).Info("ok", Err(nil))
	assert.NotContains(t, buf.String(), "error")
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf})

	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
