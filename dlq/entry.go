// Package dlq implements the dead letter queue described in spec.md §4.7:
// a deduplicated, durable, audited store of undeliverable messages with
// manual retry/discard, export, and retention-based purging. Grounded on
// orchestration/execution_store.go's JSON-snapshot persistence and
// orchestration/redis_task_queue.go's append-only-log-plus-index shape.
package dlq

import (
	"time"

	"github.com/apm-auto/coordination-core/protocol"
)

// Entry is one dead-lettered message (§3 "DLQ entry"). EntryID is the
// original message's messageId, so a message can appear in at most one
// DLQ entry (§2 invariant iii) and an operator can locate it directly.
type Entry struct {
	EntryID             string                  `json:"entryId"`
	Envelope            *protocol.Envelope      `json:"envelope"`
	FailureReason       string                  `json:"failureReason"`
	FailureMessage      string                  `json:"failureMessage,omitempty"`
	ErrorCode           string                  `json:"errorCode,omitempty"`
	RetryHistory        []protocol.RetryAttempt `json:"retryHistory,omitempty"`
	FailedAt            time.Time               `json:"failedAt"`
	ReceiverID          string                  `json:"receiverId"`
	ReceiverState       string                  `json:"receiverState,omitempty"`
	CircuitBreakerState string                  `json:"circuitBreakerState,omitempty"`
	AddedAt             time.Time               `json:"addedAt"`
}

// Filter narrows List's results; zero-value fields are unconstrained.
type Filter struct {
	ErrorCode     string
	FailureReason string
	ReceiverID    string
	FailedAfter   time.Time
	FailedBefore  time.Time
}

func (f Filter) matches(e *Entry) bool {
	if f.ErrorCode != "" && e.ErrorCode != f.ErrorCode {
		return false
	}
	if f.FailureReason != "" && e.FailureReason != f.FailureReason {
		return false
	}
	if f.ReceiverID != "" && e.ReceiverID != f.ReceiverID {
		return false
	}
	if !f.FailedAfter.IsZero() && e.AddedAt.Before(f.FailedAfter) {
		return false
	}
	if !f.FailedBefore.IsZero() && e.AddedAt.After(f.FailedBefore) {
		return false
	}
	return true
}

// AuditRecord is one line appended to the immutable audit trail (§4.7).
type AuditRecord struct {
	Operation string                 `json:"operation"`
	EntryID   string                 `json:"entryId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Stats is getStats()'s return shape (§4.7).
type Stats struct {
	TotalEntries     int
	OldestEntryAgeMs float64
	ByReason         map[string]int
	ByErrorCode      map[string]int
	Top5Reasons      []ReasonCount
	GrowthPerHour    float64
}

// ReasonCount is one entry in Stats.Top5Reasons.
type ReasonCount struct {
	Reason string
	Count  int
}
