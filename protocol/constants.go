package protocol

import (
	"regexp"
	"time"
)

// MaxMessageSize is the maximum serialized envelope size (§3, invariant vii).
const MaxMessageSize = 1 << 20 // 1 MiB

// CompressionThreshold is the pre-compression byte length above which the
// serializer gzips the payload (§4.3).
const CompressionThreshold = 10 * 1024 // 10 KiB

// SchemaWarningThreshold is the envelope size above which the validator
// emits a size warning without failing (§4.2).
const SchemaWarningThreshold = 100 * 1024 // 100 KiB

// HostProtocolMajor is this build's protocol major version; envelopes
// whose major version differs are rejected with VERSION_UNSUPPORTED.
const HostProtocolMajor = 1

// messageIDPattern matches msg_{YYYYMMDD}_{HHMMSS}_{alnum}.
var messageIDPattern = regexp.MustCompile(`^msg_\d{8}_\d{6}_[a-zA-Z0-9]+$`)

// agentIDPattern matches alphanumeric/underscore agent IDs, or the
// broadcast wildcard "*".
var agentIDPattern = regexp.MustCompile(`^([a-zA-Z0-9_]+|\*)$`)

// DefaultTimeout returns the §3 default ack timeout for a message type.
// ACK/NACK are fire-and-forget: zero duration signals "do not track".
func DefaultTimeout(t MessageType) time.Duration {
	switch t {
	case TaskAssignment:
		return 60 * time.Second
	case TaskUpdate:
		return 30 * time.Second
	case StateSync:
		return 30 * time.Second
	case ErrorReport:
		return 10 * time.Second
	case HandoffRequest:
		return 60 * time.Second
	default:
		return 0
	}
}
