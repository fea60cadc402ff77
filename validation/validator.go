// Package validation implements the three cumulative validation levels
// (syntax, schema, semantic) described in spec.md §4.2. There is no direct
// teacher analogue for a bespoke validator; the structured-error-record
// shape follows platform.CoordError's field philosophy.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/apm-auto/coordination-core/protocol"
)

// Level is a validation depth selector.
type Level int

const (
	LevelSyntax Level = iota
	LevelSchema
	LevelSemantic
)

// ErrorCode is the taxonomy of validation failure/warning codes.
type ErrorCode string

const (
	CodeMalformedMessage   ErrorCode = "MALFORMED_MESSAGE"
	CodeSizeExceeded       ErrorCode = "SIZE_EXCEEDED"
	CodeMissingField       ErrorCode = "MISSING_FIELD"
	CodeInvalidType        ErrorCode = "INVALID_TYPE"
	CodeInvalidEnum        ErrorCode = "INVALID_ENUM"
	CodeVersionUnsupported ErrorCode = "VERSION_UNSUPPORTED"
	CodeInvalidAgentID     ErrorCode = "INVALID_AGENT_ID"
	CodeMissingCorrelation ErrorCode = "MISSING_CORRELATION_ID"
	CodeInvalidProgress    ErrorCode = "INVALID_PROGRESS"
	CodeInvalidHandoff     ErrorCode = "INVALID_HANDOFF_TARGET"
	CodeBusinessRule       ErrorCode = "BUSINESS_RULE_VIOLATION"
)

// Issue is a single validation error or warning record.
type Issue struct {
	Code        ErrorCode
	Message     string
	Field       string
	Expected    interface{}
	Actual      interface{}
	Remediation string
}

// Result is the outcome of validating one envelope at a requested level.
type Result struct {
	Valid    bool
	Level    Level
	Errors   []Issue
	Warnings []Issue
}

func (r *Result) fail(code ErrorCode, msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, Issue{Code: code, Message: msg})
}

func (r *Result) failField(code ErrorCode, field, msg string, expected, actual interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, Issue{Code: code, Message: msg, Field: field, Expected: expected, Actual: actual})
}

func (r *Result) warn(code ErrorCode, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Code: code, Message: msg, Field: field})
}

// ValidateSyntax checks that raw is non-empty, valid UTF-8, parseable JSON.
// It returns the decoded envelope (best-effort) alongside the result so
// callers can continue to schema/semantic validation without re-parsing.
func ValidateSyntax(raw []byte) (*Result, map[string]interface{}) {
	r := &Result{Valid: true, Level: LevelSyntax}

	if len(raw) == 0 {
		r.fail(CodeMalformedMessage, "message body is empty")
		return r, nil
	}
	if !utf8.Valid(raw) {
		r.fail(CodeMalformedMessage, "message body is not valid UTF-8")
		return r, nil
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		r.fail(CodeMalformedMessage, fmt.Sprintf("message body is not parseable JSON: %v", err))
		return r, nil
	}

	return r, decoded
}

// ValidateSchema checks that an already-syntax-valid envelope has every
// required field with the correct type/enum value, and that its
// serialized size is within MaxMessageSize (warning above
// SchemaWarningThreshold). serializedSize is supplied by the caller
// (typically from the serializer) to avoid re-encoding here.
func ValidateSchema(env *protocol.Envelope, serializedSize int) *Result {
	r := &Result{Valid: true, Level: LevelSchema}

	if serializedSize > protocol.MaxMessageSize {
		r.failField(CodeSizeExceeded, "", fmt.Sprintf("envelope size %d exceeds %d byte limit", serializedSize, protocol.MaxMessageSize), protocol.MaxMessageSize, serializedSize)
	} else if serializedSize > protocol.SchemaWarningThreshold {
		r.warn(CodeSizeExceeded, "", fmt.Sprintf("envelope size %d exceeds %d byte warning threshold", serializedSize, protocol.SchemaWarningThreshold))
	}

	if env.ProtocolVersion == "" {
		r.failField(CodeMissingField, "protocolVersion", "protocolVersion is required", "semver", "")
	}
	if env.MessageID == "" {
		r.failField(CodeMissingField, "messageId", "messageId is required", "msg_YYYYMMDD_HHMMSS_alnum", "")
	} else if !protocol.ValidateMessageID(env.MessageID) {
		r.failField(CodeInvalidType, "messageId", "messageId does not match msg_YYYYMMDD_HHMMSS_alnum", "msg_YYYYMMDD_HHMMSS_alnum", env.MessageID)
	}
	if env.Sender.AgentID == "" {
		r.failField(CodeMissingField, "sender.agentId", "sender.agentId is required", "non-empty", "")
	}
	if env.Receiver.AgentID == "" {
		r.failField(CodeMissingField, "receiver.agentId", "receiver.agentId is required", "non-empty", "")
	}
	if !isKnownMessageType(env.MessageType) {
		r.failField(CodeInvalidEnum, "messageType", "messageType is not one of the closed set", validMessageTypes, env.MessageType)
	}
	if !isKnownPriority(env.Priority) {
		r.failField(CodeInvalidEnum, "priority", "priority is not one of HIGH, NORMAL, LOW", []protocol.Priority{protocol.PriorityHigh, protocol.PriorityNormal, protocol.PriorityLow}, env.Priority)
	}
	if env.Payload == nil {
		r.failField(CodeMissingField, "payload", "payload is required", "object", nil)
	}

	return r
}

var validMessageTypes = []protocol.MessageType{
	protocol.TaskAssignment, protocol.TaskUpdate, protocol.StateSync,
	protocol.ErrorReport, protocol.HandoffRequest, protocol.Ack, protocol.Nack,
}

func isKnownMessageType(t protocol.MessageType) bool {
	for _, v := range validMessageTypes {
		if v == t {
			return true
		}
	}
	return false
}

func isKnownPriority(p protocol.Priority) bool {
	return p == protocol.PriorityHigh || p == protocol.PriorityNormal || p == protocol.PriorityLow
}

// ValidateSemantic runs the type-specific business rules on top of an
// envelope that has already passed schema validation.
func ValidateSemantic(env *protocol.Envelope) *Result {
	r := &Result{Valid: true, Level: LevelSemantic}

	if !protocol.ValidateProtocolVersion(env.ProtocolVersion) {
		r.failField(CodeVersionUnsupported, "protocolVersion", "protocol major version is incompatible with this host", protocol.HostProtocolMajor, env.ProtocolVersion)
	}
	if !protocol.ValidateAgentID(env.Sender.AgentID) {
		r.failField(CodeInvalidAgentID, "sender.agentId", "sender.agentId is malformed", "alnum/underscore or *", env.Sender.AgentID)
	}
	if !protocol.ValidateAgentID(env.Receiver.AgentID) {
		r.failField(CodeInvalidAgentID, "receiver.agentId", "receiver.agentId is malformed", "alnum/underscore or *", env.Receiver.AgentID)
	}
	if protocol.RequiresCorrelationID(env.MessageType) && env.CorrelationID == "" {
		r.failField(CodeMissingCorrelation, "correlationId", fmt.Sprintf("%s requires a correlationId", env.MessageType), "non-empty", "")
	}

	switch p := env.Payload.(type) {
	case *protocol.TaskUpdatePayload:
		validateTaskUpdate(r, p)
	case *protocol.HandoffRequestPayload:
		validateHandoffRequest(r, p)
	case *protocol.AckPayload:
		if env.CorrelationID == "" {
			r.warn(CodeMissingCorrelation, "correlationId", "ACK without a correlationId cannot be paired with its request")
		}
	case *protocol.NackPayload:
		validateNack(r, p)
	}

	return r
}

func validateTaskUpdate(r *Result, p *protocol.TaskUpdatePayload) {
	if !protocol.ValidateTaskProgress(p.Progress) {
		r.failField(CodeInvalidProgress, "progress", "progress must be within [0.0, 1.0]", "[0.0,1.0]", p.Progress)
	}
	if !protocol.ValidateCompletedStatus(p.Status, p.Progress) {
		r.failField(CodeBusinessRule, "progress", "status=completed requires progress=1.0", 1.0, p.Progress)
	}
	if p.Status == protocol.StatusBlocked && len(p.Blockers) == 0 {
		r.warn(CodeBusinessRule, "blockers", "status=blocked without any blockers listed")
	}
}

func validateHandoffRequest(r *Result, p *protocol.HandoffRequestPayload) {
	if !protocol.ValidateHandoffTarget(p.SourceAgent, p.TargetAgent) {
		r.failField(CodeInvalidHandoff, "targetAgent", "sourceAgent and targetAgent must differ", p.SourceAgent, p.TargetAgent)
	}
	if len(p.CompletedSteps) == 0 {
		r.warn(CodeBusinessRule, "completedSteps", "handoff request has no completed steps recorded")
	}
}

func validateNack(r *Result, p *protocol.NackPayload) {
	if p.SuggestedFix == "" {
		r.warn(CodeBusinessRule, "suggestedFix", "NACK is missing a suggestedFix")
	}
	if p.CanRetry && containsPermanent(p.Reason) {
		r.warn(CodeBusinessRule, "canRetry", "canRetry=true but reason suggests a permanent failure")
	}
}

func containsPermanent(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "permanent")
}

// Validate runs every level up to and including level, short-circuiting on
// the first level that fails (later levels assume earlier ones passed).
func Validate(raw []byte, env *protocol.Envelope, serializedSize int, level Level) *Result {
	if level >= LevelSyntax {
		syn, _ := ValidateSyntax(raw)
		if !syn.Valid || level == LevelSyntax {
			return syn
		}
	}
	if level >= LevelSchema {
		sch := ValidateSchema(env, serializedSize)
		if !sch.Valid || level == LevelSchema {
			return sch
		}
	}
	return ValidateSemantic(env)
}
