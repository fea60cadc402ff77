// Package coordinator implements the cross-agent coordinator described in
// spec.md §4.9: a handoff state machine driven by task completion events
// from the dependency resolver's cross-agent edges, plus the coordination
// queries that let an agent ask whether it is clear to proceed. Grounded
// on orchestration/workflow_state.go's state-machine shape and
// orchestration/workflow_dag.go's batching, which this package consumes
// via the dependency package rather than duplicating.
package coordinator

import "time"

// HandoffState is one state in the handoff state machine (§4.9).
type HandoffState string

const (
	HandoffPending   HandoffState = "Pending"
	HandoffReady     HandoffState = "Ready"
	HandoffCompleted HandoffState = "Completed"
	HandoffFailed    HandoffState = "Failed"
)

// Handoff tracks one cross-agent dependency's handoff lifecycle (§3
// "Handoff"). Error is set only on the Pending→Failed transition.
type Handoff struct {
	HandoffID      string
	RequestingTask string
	DependencyTask string
	FromAgent      string
	ToAgent        string
	State          HandoffState
	CreatedAt      time.Time
	ReadyAt        *time.Time
	CompletedAt    *time.Time
	Error          string
}

// EventType is the closed set of coordinator events (§4.9).
type EventType string

const (
	EventHandoffCreated   EventType = "handoff-created"
	EventHandoffReady     EventType = "handoff-ready"
	EventTaskUnblocked    EventType = "task-unblocked"
	EventHandoffCompleted EventType = "handoff-completed"
	EventHandoffFailed    EventType = "handoff-failed"
)

// Event is one emitted coordinator occurrence.
type Event struct {
	Type      EventType
	HandoffID string
	TaskID    string
	AgentID   string
	Timestamp time.Time
}
