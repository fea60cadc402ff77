// Package delivery implements the delivery tracker described in spec.md
// §4.5: per-message acknowledgement tracking, timeout-driven and
// NACK-driven retry with exponential backoff, and a durable snapshot that
// lets a restarted agent resume every in-flight delivery exactly where it
// left off. Grounded on orchestration/task_worker.go's retry/backoff shape
// and orchestration/execution_store.go's snapshot-on-every-change
// persistence pattern (sans Redis).
package delivery

import (
	"time"

	"github.com/apm-auto/coordination-core/protocol"
)

// EventType is the closed set of delivery lifecycle events (§4.5).
type EventType string

const (
	EventMessageSent         EventType = "MESSAGE_SENT"
	EventMessageAcknowledged EventType = "MESSAGE_ACKNOWLEDGED"
	EventMessageRetry        EventType = "MESSAGE_RETRY"
	EventMessageFailed       EventType = "MESSAGE_FAILED"
)

// Event is emitted on every delivery state transition. Context carries
// transition-specific detail: retryCount, failureReason, ackStatus,
// nackErrorCode.
type Event struct {
	Type          EventType
	MessageID     string
	CorrelationID string
	MessageType   protocol.MessageType
	Timestamp     time.Time
	Context       map[string]interface{}
}

// EventHandler receives delivery events as they're emitted. Handlers run
// synchronously under the tracker's lock-free emit path (after the
// triggering state mutation has already been persisted) and must not block.
type EventHandler func(Event)
