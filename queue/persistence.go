package queue

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/apm-auto/coordination-core/platform"
	"github.com/apm-auto/coordination-core/protocol"
)

func logPath(dir, agentID string) string {
	return filepath.Join(dir, agentID+"-queue.ndjson")
}

// appendEntry appends one logLine to the agent's durable queue log.
func appendEntry(dir, agentID string, e *Entry) error {
	env, err := json.Marshal(e.Envelope)
	if err != nil {
		return fmt.Errorf("queue: marshaling envelope: %w", err)
	}

	var line logLine
	line.EntryID = e.EntryID
	line.Message = env
	line.QueueMetadata.QueuedAt = e.QueuedAt
	line.QueueMetadata.Priority = e.Priority
	line.QueueMetadata.RetryCount = e.RetryCount

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("queue: marshaling log line: %w", err)
	}
	return platform.AppendLine(logPath(dir, agentID), data)
}

// replay reads the durable log and reconstructs every entry, keeping the
// last line for each entryId; an entryId with any line flagged processed
// is dropped.
func replay(dir, agentID string) ([]*Entry, error) {
	lines, err := platform.ReadLines(logPath(dir, agentID))
	if err != nil {
		return nil, fmt.Errorf("queue: reading log: %w", err)
	}

	order := make([]string, 0, len(lines))
	byID := make(map[string]*Entry, len(lines))
	processed := make(map[string]bool, len(lines))

	for _, raw := range lines {
		var ll logLine
		if err := json.Unmarshal(raw, &ll); err != nil {
			// Tolerate an unparseable trailing line (crash-truncated write).
			continue
		}
		if ll.EntryID == "" {
			continue
		}
		if ll.Processed {
			processed[ll.EntryID] = true
			continue
		}

		var env protocol.Envelope
		var rawPayload json.RawMessage
		env.Payload = &rawPayload
		if err := json.Unmarshal(ll.Message, &env); err != nil {
			continue
		}
		env.Payload = rawPayload
		if err := protocol.DecodePayload(&env); err != nil {
			continue
		}

		if _, seen := byID[ll.EntryID]; !seen {
			order = append(order, ll.EntryID)
		}
		byID[ll.EntryID] = &Entry{
			EntryID:    ll.EntryID,
			Envelope:   &env,
			QueuedAt:   ll.QueueMetadata.QueuedAt,
			Priority:   ll.QueueMetadata.Priority,
			RetryCount: ll.QueueMetadata.RetryCount,
		}
	}

	entries := make([]*Entry, 0, len(order))
	for _, id := range order {
		if processed[id] {
			continue
		}
		entries = append(entries, byID[id])
	}
	return entries, nil
}

// compact rewrites the durable log atomically, keeping exactly the
// supplied live entries (§4.4, §8 property 4).
func compact(dir, agentID string, live []*Entry) error {
	var buf []byte
	for _, e := range live {
		env, err := json.Marshal(e.Envelope)
		if err != nil {
			return fmt.Errorf("queue: marshaling envelope during compaction: %w", err)
		}
		var line logLine
		line.EntryID = e.EntryID
		line.Message = env
		line.QueueMetadata.QueuedAt = e.QueuedAt
		line.QueueMetadata.Priority = e.Priority
		line.QueueMetadata.RetryCount = e.RetryCount

		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("queue: marshaling log line during compaction: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	return platform.AtomicWriteFile(logPath(dir, agentID), buf, 0o644)
}
