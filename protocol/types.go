// Package protocol defines the wire-level message envelope, its payload
// variants, and the pure structural predicates the validator and the rest
// of the core build on. It has no teacher analogue as a bespoke protocol —
// its struct-tag and enum conventions follow core.Config and
// orchestration's StepType-style discriminated enums.
package protocol

import "time"

// MessageType is the closed set of envelope payload tags.
type MessageType string

const (
	TaskAssignment MessageType = "TASK_ASSIGNMENT"
	TaskUpdate     MessageType = "TASK_UPDATE"
	StateSync      MessageType = "STATE_SYNC"
	ErrorReport    MessageType = "ERROR_REPORT"
	HandoffRequest MessageType = "HANDOFF_REQUEST"
	Ack            MessageType = "ACK"
	Nack           MessageType = "NACK"
)

// Priority is the three-level queue priority.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// AgentType is the closed set of agent roles.
type AgentType string

const (
	AgentManager        AgentType = "Manager"
	AgentImplementation  AgentType = "Implementation"
	AgentAdHoc           AgentType = "AdHoc"
	AgentWildcard        AgentType = "*"
)

// AgentRef identifies a message's sender or receiver.
type AgentRef struct {
	AgentID string    `json:"agentId"`
	Type    AgentType `json:"type"`
}

// Metadata carries optional envelope-level bookkeeping.
type Metadata struct {
	RetryCount int      `json:"retryCount,omitempty"`
	TTL        int64    `json:"ttl,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Envelope is the outer wire record every message is carried in.
type Envelope struct {
	ProtocolVersion string      `json:"protocolVersion"`
	MessageID       string      `json:"messageId"`
	CorrelationID   string      `json:"correlationId,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
	Sender          AgentRef    `json:"sender"`
	Receiver        AgentRef    `json:"receiver"`
	MessageType     MessageType `json:"messageType"`
	Priority        Priority    `json:"priority"`
	Payload         interface{} `json:"payload"`
	Metadata        *Metadata   `json:"metadata,omitempty"`
}

// ExecutionType distinguishes single-step from multi-step task assignments.
type ExecutionType string

const (
	SingleStep ExecutionType = "single-step"
	MultiStep  ExecutionType = "multi-step"
)

// TaskAssignmentPayload is the TASK_ASSIGNMENT payload.
type TaskAssignmentPayload struct {
	TaskID        string                 `json:"taskId"`
	TaskRef       string                 `json:"taskRef"`
	Description   string                 `json:"description"`
	MemoryLogPath string                 `json:"memoryLogPath"`
	ExecutionType ExecutionType          `json:"executionType"`
	Dependencies  []string               `json:"dependencies,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
}

// TaskStatus is the closed set of TASK_UPDATE statuses.
type TaskStatus string

const (
	StatusInProgress    TaskStatus = "in_progress"
	StatusBlocked       TaskStatus = "blocked"
	StatusPendingReview TaskStatus = "pending_review"
	StatusCompleted     TaskStatus = "completed"
	StatusFailed        TaskStatus = "failed"
)

// TaskUpdatePayload is the TASK_UPDATE payload.
type TaskUpdatePayload struct {
	TaskID    string     `json:"taskId"`
	Progress  float64    `json:"progress"`
	Status    TaskStatus `json:"status"`
	Step      string     `json:"step,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	Files     []string   `json:"files,omitempty"`
	Blockers  []string   `json:"blockers,omitempty"`
	ETA       *time.Time `json:"eta,omitempty"`
}

// EntityType is the closed set of STATE_SYNC entity types.
type EntityType string

const (
	EntityAgent         EntityType = "agent"
	EntityTask          EntityType = "task"
	EntityMemoryLog     EntityType = "memory_log"
	EntityConfiguration EntityType = "configuration"
)

// SyncOperation is the closed set of STATE_SYNC operations.
type SyncOperation string

const (
	SyncCreate SyncOperation = "create"
	SyncUpdate SyncOperation = "update"
	SyncDelete SyncOperation = "delete"
)

// StateSyncPayload is the STATE_SYNC payload.
type StateSyncPayload struct {
	EntityType    EntityType             `json:"entityType"`
	EntityID      string                 `json:"entityId"`
	Operation     SyncOperation          `json:"operation"`
	State         map[string]interface{} `json:"state"`
	PreviousState map[string]interface{} `json:"previousState,omitempty"`
	SyncTimestamp time.Time              `json:"syncTimestamp"`
}

// ErrorSeverity is the closed set of ERROR_REPORT severities.
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityHigh     ErrorSeverity = "high"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityLow      ErrorSeverity = "low"
)

// ErrorReportPayload is the ERROR_REPORT payload.
type ErrorReportPayload struct {
	ErrorType       string        `json:"errorType"`
	ErrorCode       string        `json:"errorCode,omitempty"`
	ErrorMessage    string        `json:"errorMessage"`
	Severity        ErrorSeverity `json:"severity"`
	Context         map[string]interface{} `json:"context,omitempty"`
	StackTrace      string        `json:"stackTrace,omitempty"`
	Recoverable     bool          `json:"recoverable"`
	SuggestedAction string        `json:"suggestedAction,omitempty"`
}

// HandoffReason is the closed set of HANDOFF_REQUEST reasons.
type HandoffReason string

const (
	ReasonContextWindowLimit    HandoffReason = "context_window_limit"
	ReasonSpecializationRequired HandoffReason = "specialization_required"
	ReasonLoadBalancing         HandoffReason = "load_balancing"
)

// HandoffRequestPayload is the HANDOFF_REQUEST payload.
type HandoffRequestPayload struct {
	TaskID          string                 `json:"taskId"`
	Reason          HandoffReason          `json:"reason"`
	SourceAgent     string                 `json:"sourceAgent"`
	TargetAgent     string                 `json:"targetAgent"`
	HandoffContext  map[string]interface{} `json:"handoffContext,omitempty"`
	CompletedSteps  []string               `json:"completedSteps,omitempty"`
}

// AckStatus is the closed set of ACK statuses.
type AckStatus string

const (
	AckReceived  AckStatus = "received"
	AckProcessed AckStatus = "processed"
	AckQueued    AckStatus = "queued"
)

// AckPayload is the ACK payload.
type AckPayload struct {
	AcknowledgedMessageID string        `json:"acknowledgedMessageId"`
	Status                AckStatus     `json:"status"`
	Timestamp             time.Time     `json:"timestamp"`
	ProcessingTime        time.Duration `json:"processingTime,omitempty"`
	Notes                 string        `json:"notes,omitempty"`
}

// NackPayload is the NACK payload.
type NackPayload struct {
	RejectedMessageID string    `json:"rejectedMessageId"`
	Reason            string    `json:"reason"`
	Timestamp         time.Time `json:"timestamp"`
	ErrorCode         string    `json:"errorCode,omitempty"`
	CanRetry          bool      `json:"canRetry"`
	SuggestedFix      string    `json:"suggestedFix,omitempty"`
}

// RetryAttempt is one recorded delivery attempt, used to build a DLQ
// entry's ordered retryHistory (§3 "DLQ entry").
type RetryAttempt struct {
	AttemptNumber int       `json:"attemptNumber"`
	Timestamp     time.Time `json:"timestamp"`
	Error         string    `json:"error,omitempty"`
}

// FailureRecord carries the optional §3 DLQ-entry metadata a caller may
// have on hand when routing a message to the dead letter queue: the
// human-readable failure detail, the ordered retry attempts that preceded
// it, and a snapshot of receiver/circuit-breaker state at failure time.
type FailureRecord struct {
	FailureMessage      string
	RetryHistory        []RetryAttempt
	ReceiverState       string
	CircuitBreakerState string
}
