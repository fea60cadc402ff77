// Package queue implements the three-priority persistent FIFO described in
// spec.md §4.4: in-memory priority lists backed by an append-only NDJSON
// log, periodic compaction, and an overflow policy. Grounded on
// orchestration/redis_task_queue.go (Enqueue/logger/retry shape, minus
// Redis) and orchestration/workflow_dag.go's mutex-guarded in-memory
// structure.
package queue

import (
	"encoding/json"
	"time"

	"github.com/apm-auto/coordination-core/protocol"
)

// Entry is a queued message plus its queue metadata (§3 "Queue entry").
type Entry struct {
	EntryID    string
	Envelope   *protocol.Envelope
	QueuedAt   time.Time
	Priority   protocol.Priority
	RetryCount int
}

// logLine is the on-disk shape for one queue log record. It extends the
// §6 wire format ({message, queueMetadata}) with an entryId and an
// optional processed flag; replay drops any entryId that has a line
// flagged processed. Liveness does not rely on the markProcessed contract
// the legacy source shipped (§9a): dequeue removes an entry from the
// in-memory priority lists, and compaction rewrites the log from the
// entries those lists still hold.
type logLine struct {
	EntryID       string          `json:"entryId"`
	Message       json.RawMessage `json:"message"`
	QueueMetadata struct {
		QueuedAt   time.Time         `json:"queuedAt"`
		Priority   protocol.Priority `json:"priority"`
		RetryCount int               `json:"retryCount"`
	} `json:"queueMetadata"`
	Processed bool `json:"processed,omitempty"`
}
