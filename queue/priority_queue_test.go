package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apm-auto/coordination-core/protocol"
)

func newTestQueue(t *testing.T, dir string, maxSize int) *PriorityQueue {
	t.Helper()
	q, err := New("agentA", dir, maxSize, 0, nil, nil)
	require.NoError(t, err)
	return q
}

func envelopeFor(id string, priority protocol.Priority) *protocol.Envelope {
	return &protocol.Envelope{
		ProtocolVersion: "1.0.0",
		MessageID:       id,
		Timestamp:       time.Now(),
		Sender:          protocol.AgentRef{AgentID: "manager_1", Type: protocol.AgentManager},
		Receiver:        protocol.AgentRef{AgentID: "impl_1", Type: protocol.AgentImplementation},
		MessageType:     protocol.TaskUpdate,
		Priority:        priority,
		Payload: &protocol.TaskUpdatePayload{
			TaskID:   "T-1",
			Progress: 0.1,
			Status:   protocol.StatusInProgress,
		},
	}
}

func TestEnqueueDequeuePriorityOrdering(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, 10)

	_, err := q.Enqueue(envelopeFor("msg_1", protocol.PriorityLow), protocol.PriorityLow)
	require.NoError(t, err)
	_, err = q.Enqueue(envelopeFor("msg_2", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(envelopeFor("msg_3", protocol.PriorityHigh), protocol.PriorityHigh)
	require.NoError(t, err)

	e, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "msg_3", e.Envelope.MessageID, "HIGH dequeues before NORMAL and LOW")

	e, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "msg_2", e.Envelope.MessageID)

	e, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "msg_1", e.Envelope.MessageID)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestEnqueueDequeueFIFOWithinPriority(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, 10)

	_, err := q.Enqueue(envelopeFor("msg_a", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(envelopeFor("msg_b", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)

	e, _ := q.Dequeue()
	assert.Equal(t, "msg_a", e.Envelope.MessageID)
	e, _ = q.Dequeue()
	assert.Equal(t, "msg_b", e.Envelope.MessageID)
}

func TestOverflowDropsOldestLowFirst(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, 2)

	_, err := q.Enqueue(envelopeFor("msg_1", protocol.PriorityLow), protocol.PriorityLow)
	require.NoError(t, err)
	_, err = q.Enqueue(envelopeFor("msg_2", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)

	// queue is full (2/2); enqueuing a third should drop the LOW entry.
	_, err = q.Enqueue(envelopeFor("msg_3", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)

	assert.Equal(t, 0, q.SizeByPriority(protocol.PriorityLow))
	assert.Equal(t, 2, q.SizeByPriority(protocol.PriorityNormal))
}

func TestOverflowHighDropsOldestNormalWhenNoLow(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, 1)

	_, err := q.Enqueue(envelopeFor("msg_1", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)

	_, err = q.Enqueue(envelopeFor("msg_2", protocol.PriorityHigh), protocol.PriorityHigh)
	require.NoError(t, err)

	assert.Equal(t, 0, q.SizeByPriority(protocol.PriorityNormal))
	assert.Equal(t, 1, q.SizeByPriority(protocol.PriorityHigh))
}

func TestOverflowRejectsWhenNothingLowerCanBeDropped(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, 1)

	_, err := q.Enqueue(envelopeFor("msg_1", protocol.PriorityHigh), protocol.PriorityHigh)
	require.NoError(t, err)

	_, err = q.Enqueue(envelopeFor("msg_2", protocol.PriorityHigh), protocol.PriorityHigh)
	assert.Error(t, err, "a HIGH arriving when only HIGH occupies a full queue must be rejected")
}

func TestQueueDurableAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, 10)

	_, err := q.Enqueue(envelopeFor("msg_1", protocol.PriorityHigh), protocol.PriorityHigh)
	require.NoError(t, err)
	_, err = q.Enqueue(envelopeFor("msg_2", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)

	q2 := newTestQueue(t, dir, 10)
	assert.Equal(t, 2, q2.Size())

	e, ok := q2.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "msg_1", e.Envelope.MessageID)
}

func TestShutdownCompactionDropsDequeuedEntry(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, 10)

	id1, err := q.Enqueue(envelopeFor("msg_1", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)
	_, err = q.Enqueue(envelopeFor("msg_2", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)

	e, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, id1, e.EntryID)

	require.NoError(t, q.Shutdown())

	q2 := newTestQueue(t, dir, 10)
	assert.Equal(t, 1, q2.Size(), "compaction must drop the dequeued entry, keeping only what remains in memory")

	peek, ok := q2.Peek()
	require.True(t, ok)
	assert.Equal(t, "msg_2", peek.Envelope.MessageID)
}

func TestClearEmptiesQueueAndLog(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, 10)
	_, err := q.Enqueue(envelopeFor("msg_1", protocol.PriorityNormal), protocol.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, q.Clear())
	assert.True(t, q.IsEmpty())

	q2 := newTestQueue(t, dir, 10)
	assert.True(t, q2.IsEmpty())
}

func TestGetMetricsReportsDepthAndAge(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, 10)
	_, err := q.Enqueue(envelopeFor("msg_1", protocol.PriorityHigh), protocol.PriorityHigh)
	require.NoError(t, err)
	_, err = q.Enqueue(envelopeFor("msg_2", protocol.PriorityLow), protocol.PriorityLow)
	require.NoError(t, err)

	m := q.GetMetrics()
	assert.Equal(t, 2, m.TotalSize)
	assert.Equal(t, 1, m.SizeByPriority[protocol.PriorityHigh])
	assert.Equal(t, 1, m.SizeByPriority[protocol.PriorityLow])
	assert.GreaterOrEqual(t, m.OldestAgeMs, float64(0))
}
