package dlq

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/apm-auto/coordination-core/platform"
)

func dataPath(dir, agentID string) string {
	return filepath.Join(dir, agentID+"-dlq.ndjson")
}

func auditPath(dir, agentID string) string {
	return filepath.Join(dir, agentID+"-dlq-audit.ndjson")
}

// loadEntries replays the DLQ's append-only log, keeping the last record
// for each entryId and skipping lines that do not parse (a rewrite replaces
// the whole file with the surviving entries).
func loadEntries(dir, agentID string) ([]*Entry, error) {
	lines, err := platform.ReadLines(dataPath(dir, agentID))
	if err != nil {
		return nil, fmt.Errorf("dlq: reading log: %w", err)
	}

	order := make([]string, 0, len(lines))
	byID := make(map[string]*Entry, len(lines))
	for _, raw := range lines {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if _, seen := byID[e.EntryID]; !seen {
			order = append(order, e.EntryID)
		}
		entry := e
		byID[e.EntryID] = &entry
	}

	entries := make([]*Entry, 0, len(order))
	for _, id := range order {
		entries = append(entries, byID[id])
	}
	return entries, nil
}

// appendEntry appends one entry to the durable log.
func appendEntry(dir, agentID string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("dlq: marshaling entry: %w", err)
	}
	return platform.AppendLine(dataPath(dir, agentID), data)
}

// rewrite atomically replaces the durable log with exactly the supplied
// live entries, used after retry/discard/purge mutate the in-memory set.
func rewrite(dir, agentID string, live []*Entry) error {
	var buf []byte
	for _, e := range live {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("dlq: marshaling entry during rewrite: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	return platform.AtomicWriteFile(dataPath(dir, agentID), buf, 0o644)
}

// appendAudit appends one immutable audit record.
func appendAudit(dir, agentID string, rec AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("dlq: marshaling audit record: %w", err)
	}
	return platform.AppendLine(auditPath(dir, agentID), data)
}
