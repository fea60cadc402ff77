package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apm-auto/coordination-core/protocol"
)

func sampleEntry(id string) *Entry {
	return &Entry{
		EntryID:  id,
		QueuedAt: time.Now(),
		Priority: protocol.PriorityNormal,
		Envelope: &protocol.Envelope{
			ProtocolVersion: "1.0.0",
			MessageID:       "msg_20260305_143000_abc123def456",
			Timestamp:       time.Now(),
			Sender:          protocol.AgentRef{AgentID: "manager_1", Type: protocol.AgentManager},
			Receiver:        protocol.AgentRef{AgentID: "impl_1", Type: protocol.AgentImplementation},
			MessageType:     protocol.TaskUpdate,
			Priority:        protocol.PriorityNormal,
			Payload: &protocol.TaskUpdatePayload{
				TaskID:   "T-1",
				Progress: 0.5,
				Status:   protocol.StatusInProgress,
			},
		},
	}
}

func TestAppendAndReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()

	e1 := sampleEntry("qe_1")
	e2 := sampleEntry("qe_2")
	require.NoError(t, appendEntry(dir, "agentA", e1))
	require.NoError(t, appendEntry(dir, "agentA", e2))

	entries, err := replay(dir, "agentA")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "qe_1", entries[0].EntryID)
	assert.Equal(t, "qe_2", entries[1].EntryID)
	assert.Equal(t, "T-1", entries[0].Envelope.Payload.(*protocol.TaskUpdatePayload).TaskID)
}

func TestReplayLastLineWinsPerEntryID(t *testing.T) {
	dir := t.TempDir()

	e := sampleEntry("qe_1")
	require.NoError(t, appendEntry(dir, "agentA", e))

	e.RetryCount = 3
	require.NoError(t, appendEntry(dir, "agentA", e))

	entries, err := replay(dir, "agentA")
	require.NoError(t, err)
	require.Len(t, entries, 1, "a later line for the same entryId should supersede the earlier one")
	assert.Equal(t, 3, entries[0].RetryCount)
}

func TestCompactKeepsOnlyLiveEntries(t *testing.T) {
	dir := t.TempDir()

	e1 := sampleEntry("qe_1")
	e2 := sampleEntry("qe_2")
	e3 := sampleEntry("qe_3")
	require.NoError(t, appendEntry(dir, "agentA", e1))
	require.NoError(t, appendEntry(dir, "agentA", e2))
	require.NoError(t, appendEntry(dir, "agentA", e3))

	require.NoError(t, compact(dir, "agentA", []*Entry{e2}))

	entries, err := replay(dir, "agentA")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "qe_2", entries[0].EntryID)
}

func TestReplayToleratesMalformedTrailingLine(t *testing.T) {
	dir := t.TempDir()

	e := sampleEntry("qe_1")
	require.NoError(t, appendEntry(dir, "agentA", e))

	f, err := os.OpenFile(logPath(dir, "agentA"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"entryId":"qe_2","message":{bad`)
	require.NoError(t, f.Close())

	entries, err := replay(dir, "agentA")
	require.NoError(t, err)
	require.Len(t, entries, 1, "malformed trailing line should be ignored, not fail the replay")
	assert.Equal(t, "qe_1", entries[0].EntryID)
}

func TestReplayMissingLogReturnsEmpty(t *testing.T) {
	entries, err := replay(t.TempDir(), "agentA")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogPathIsPerAgent(t *testing.T) {
	p := logPath("/tmp/x", "agentA")
	assert.Equal(t, filepath.Join("/tmp/x", "agentA-queue.ndjson"), p)
}

func TestCompactWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, compact(dir, "agentA", []*Entry{sampleEntry("qe_1")}))

	data, err := os.ReadFile(logPath(dir, "agentA"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "qe_1")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no stray .tmp file should remain after compaction")
}
