package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestJSONLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger("warn", &buf)

	l.Debug("debug msg", nil)
	l.Info("info msg", nil)
	l.Warn("warn msg", nil)
	l.Error("error msg", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])
}

func TestJSONLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger("debug", &buf)
	comp := l.WithComponent("queue")
	comp.Info("hello", map[string]interface{}{"x": 1})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "queue", lines[0]["component"])
	assert.Equal(t, float64(1), lines[0]["x"])
}

func TestJSONLoggerWithContextCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger("debug", &buf)
	ctx := WithCorrelationID(context.Background(), "req_123")

	l.InfoWithContext(ctx, "hello", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "req_123", lines[0]["correlation_id"])
}

func TestJSONLoggerWithContextNoCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger("debug", &buf)

	l.InfoWithContext(context.Background(), "hello", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	_, hasID := lines[0]["correlation_id"]
	assert.False(t, hasID)
}

func TestNoOpLoggerDoesNothing(t *testing.T) {
	var n NoOpLogger
	assert.NotPanics(t, func() {
		n.Info("x", nil)
		n.Error("x", nil)
		n.Warn("x", nil)
		n.Debug("x", nil)
		n.InfoWithContext(context.Background(), "x", nil)
		_ = n.WithComponent("queue")
	})
}
