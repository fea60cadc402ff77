package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodePayload replaces env.Payload (expected to be a json.RawMessage, as
// left by serialization.Deserialize) with the concrete payload type for
// env.MessageType, so downstream type switches (validation.ValidateSemantic,
// dispatch handlers) can use a type assertion instead of re-parsing.
func DecodePayload(env *Envelope) error {
	raw, ok := env.Payload.(json.RawMessage)
	if !ok {
		// Already decoded (or nil); nothing to do.
		return nil
	}

	var target interface{}
	switch env.MessageType {
	case TaskAssignment:
		target = &TaskAssignmentPayload{}
	case TaskUpdate:
		target = &TaskUpdatePayload{}
	case StateSync:
		target = &StateSyncPayload{}
	case ErrorReport:
		target = &ErrorReportPayload{}
	case HandoffRequest:
		target = &HandoffRequestPayload{}
	case Ack:
		target = &AckPayload{}
	case Nack:
		target = &NackPayload{}
	default:
		return fmt.Errorf("protocol: unknown messageType %q", env.MessageType)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("protocol: decoding %s payload: %w", env.MessageType, err)
	}
	env.Payload = target
	return nil
}
