package delivery

import (
	"time"

	"github.com/apm-auto/coordination-core/protocol"
)

// State is one tracked in-flight message (§4.5). Envelope is retained so a
// retry can hand the original message back to the caller for resending.
// RetryHistory accumulates one entry per retry and, on MESSAGE_FAILED,
// becomes the retryHistory a caller attaches to the resulting DLQ entry
// (§3 "DLQ entry", scenario S3).
type State struct {
	MessageID     string                  `json:"messageId"`
	CorrelationID string                  `json:"correlationId,omitempty"`
	MessageType   protocol.MessageType    `json:"messageType"`
	Envelope      *protocol.Envelope      `json:"envelope"`
	SentAt        time.Time               `json:"sentAt"`
	TimeoutAt     time.Time               `json:"timeoutAt"`
	RetryCount    int                     `json:"retryCount"`
	NextRetryAt   *time.Time              `json:"nextRetryAt,omitempty"`
	RetryHistory  []protocol.RetryAttempt `json:"retryHistory,omitempty"`
}

// snapshot is the on-disk shape written atomically on every state change
// (§4.5 Persistence).
type snapshot struct {
	Deliveries  map[string]*State `json:"deliveries"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

// retryDelay implements §4.5's backoff schedule for the nth retry
// (retryCount already incremented to n): delay = min(base * 2^(n-1), max).
func retryDelay(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	return d
}

// requiresTracking reports whether messages of type t are tracked for
// delivery (ACK/NACK themselves are not, per §4.5).
func requiresTracking(t protocol.MessageType) bool {
	return t != protocol.Ack && t != protocol.Nack
}
