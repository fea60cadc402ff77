package protocol

import (
	"strconv"
	"strings"
)

// ValidateProtocolVersion reports whether v's major component equals this
// build's host major version (§4.1).
func ValidateProtocolVersion(v string) bool {
	major, _, _, ok := parseSemver(v)
	if !ok {
		return false
	}
	return major == HostProtocolMajor
}

func parseSemver(v string) (major, minor, patch int, ok bool) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var err error
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, false
	}
	if minor, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, false
	}
	if patch, err = strconv.Atoi(strings.SplitN(parts[2], "-", 2)[0]); err != nil {
		return 0, 0, 0, false
	}
	return major, minor, patch, true
}

// ValidateAgentID reports whether id is alphanumeric/underscore or the
// broadcast wildcard "*".
func ValidateAgentID(id string) bool {
	return id != "" && agentIDPattern.MatchString(id)
}

// ValidateMessageID reports whether id matches
// msg_{YYYYMMDD}_{HHMMSS}_{alnum}.
func ValidateMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

// RequiresCorrelationID reports whether messages of type t must carry a
// correlationId (§4.1).
func RequiresCorrelationID(t MessageType) bool {
	switch t {
	case TaskAssignment, HandoffRequest, Ack, Nack:
		return true
	default:
		return false
	}
}

// ValidateTaskProgress reports whether p is within [0.0, 1.0].
func ValidateTaskProgress(p float64) bool {
	return p >= 0.0 && p <= 1.0
}

// ValidateCompletedStatus enforces invariant (vi): status=completed
// implies progress=1.0. Any other status/progress combination is valid
// with respect to this rule alone.
func ValidateCompletedStatus(status TaskStatus, progress float64) bool {
	if status == StatusCompleted {
		return progress == 1.0
	}
	return true
}

// ValidateHandoffTarget enforces source != target (§4.1).
func ValidateHandoffTarget(source, target string) bool {
	return source != "" && target != "" && source != target
}
