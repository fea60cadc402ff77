package resilience

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apm-auto/coordination-core/platform"
	"github.com/apm-auto/coordination-core/protocol"
)

type fakeDLQ struct {
	calls    []string
	failures []protocol.FailureRecord
}

func (f *fakeDLQ) Add(_ context.Context, env *protocol.Envelope, reason, errorCode string, failure protocol.FailureRecord) error {
	f.calls = append(f.calls, env.MessageID+":"+reason+":"+errorCode)
	f.failures = append(f.failures, failure)
	return nil
}

func testEnvelope() *protocol.Envelope {
	return &protocol.Envelope{
		MessageID:   "msg_1",
		MessageType: protocol.TaskUpdate,
		Timestamp:   time.Now(),
	}
}

func newTestHandler(t *testing.T, dlq DeadLetterSink) *Handler {
	t.Helper()
	cfg := &platform.ResilienceConfig{
		DLQPath:                 t.TempDir(),
		EnableRetries:           true,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   time.Minute,
	}
	return NewHandler(cfg, dlq, nil, nil)
}

func TestHandleSendFailureCircuitOpenRoutesToDLQ(t *testing.T) {
	dlq := &fakeDLQ{}
	h := newTestHandler(t, dlq)
	for i := 0; i < 5; i++ {
		h.breaker.RecordFailure()
	}
	require.Equal(t, CircuitOpen, h.Breaker().State())

	outcome := h.HandleSendFailure(context.Background(), testEnvelope(), errors.New("transient"), 0, nil)
	assert.False(t, outcome.ShouldRetry)
	assert.Equal(t, "circuit_breaker_open", outcome.Reason)
	require.Len(t, dlq.calls, 1)
	assert.Contains(t, dlq.calls[0], "circuit_breaker_open")
	require.Len(t, dlq.failures, 1)
	assert.Equal(t, "transient", dlq.failures[0].FailureMessage)
	assert.Equal(t, string(CircuitOpen), dlq.failures[0].CircuitBreakerState)
}

func TestHandleSendFailureNonRecoverableRoutesToDLQ(t *testing.T) {
	dlq := &fakeDLQ{}
	h := newTestHandler(t, dlq)

	outcome := h.HandleSendFailure(context.Background(), testEnvelope(), platform.ErrSchemaInvalid, 0, nil)
	assert.False(t, outcome.ShouldRetry)
	assert.Equal(t, "permanent_protocol_error", outcome.Reason)
	require.Len(t, dlq.calls, 1)
}

func TestHandleSendFailureExhaustedRetriesRoutesToDLQ(t *testing.T) {
	dlq := &fakeDLQ{}
	h := newTestHandler(t, dlq)

	history := []protocol.RetryAttempt{{AttemptNumber: 1, Timestamp: time.Now()}, {AttemptNumber: 2, Timestamp: time.Now()}}
	outcome := h.HandleSendFailure(context.Background(), testEnvelope(), platform.ErrTimeout, 2, history) // TaskUpdate maxRetries=2
	assert.False(t, outcome.ShouldRetry)
	assert.Equal(t, "max_retries_exceeded", outcome.Reason)
	require.Len(t, dlq.calls, 1)
	require.Len(t, dlq.failures, 1)
	assert.Len(t, dlq.failures[0].RetryHistory, 2, "the caller's retry history is carried onto the DLQ entry")
}

func TestHandleSendFailureSchedulesRetryWithBackoff(t *testing.T) {
	dlq := &fakeDLQ{}
	h := newTestHandler(t, dlq)

	outcome := h.HandleSendFailure(context.Background(), testEnvelope(), platform.ErrTimeout, 0, nil)
	assert.True(t, outcome.ShouldRetry)
	assert.Equal(t, time.Second, outcome.Delay)
	assert.Empty(t, dlq.calls)
}

func TestHandleSendFailureDisabledRetriesRoutesImmediately(t *testing.T) {
	dlq := &fakeDLQ{}
	h := newTestHandler(t, dlq)
	h.enableRetries = false

	outcome := h.HandleSendFailure(context.Background(), testEnvelope(), platform.ErrTimeout, 0, nil)
	assert.False(t, outcome.ShouldRetry)
	assert.Equal(t, "max_retries_exceeded", outcome.Reason)
}

func TestHandleReceiveFailureWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(&platform.ResilienceConfig{DLQPath: dir, CircuitBreakerThreshold: 5, CircuitBreakerTimeout: time.Minute}, nil, nil, nil)

	require.NoError(t, h.HandleReceiveFailure(context.Background(), []byte(`{bad`), nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecoverAppliesBestEffortRepairs(t *testing.T) {
	env := &protocol.Envelope{
		MessageType: protocol.HandoffRequest,
	}
	fixed, changed := Recover(env)
	assert.True(t, changed)
	assert.Equal(t, protocol.PriorityNormal, fixed.Priority)
	assert.NotNil(t, fixed.Metadata)
	assert.False(t, fixed.Timestamp.IsZero())
	assert.NotEmpty(t, fixed.CorrelationID)
}

func TestRecoverNoopWhenAlreadyValid(t *testing.T) {
	env := &protocol.Envelope{
		MessageType:   protocol.TaskUpdate,
		Priority:      protocol.PriorityHigh,
		Metadata:      &protocol.Metadata{},
		Timestamp:     time.Now(),
		CorrelationID: "",
	}
	_, changed := Recover(env)
	assert.False(t, changed, "TaskUpdate does not require a correlation id, so nothing should need fixing")
}
