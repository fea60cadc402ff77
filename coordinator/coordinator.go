package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apm-auto/coordination-core/dependency"
	"github.com/apm-auto/coordination-core/obs"
)

// AgentState is getAgentCoordinationState's return shape (§4.9).
type AgentState struct {
	Blocked            []*Handoff
	CompletedForOthers []*Handoff
	Pending            []*Handoff
	Providing          []*Handoff
}

// Coordinator tracks handoff lifecycles derived from a dependency graph's
// cross-agent edges (§4.9).
type Coordinator struct {
	graph   *dependency.Graph
	handler func(Event)
	instr   *obs.Instruments

	mu               sync.Mutex
	completed        map[string]bool
	handoffs         map[string]*Handoff
	byRequestingTask map[string][]string
	byProvidingTask  map[string][]string
	events           []Event
	eventsByTask     map[string][]Event
	eventsByAgent    map[string][]Event
}

// New creates a Coordinator over graph. handler, if non-nil, receives
// every emitted Event.
func New(graph *dependency.Graph, handler func(Event), instr *obs.Instruments) *Coordinator {
	if handler == nil {
		handler = func(Event) {}
	}
	if instr == nil {
		instr = obs.New("coordination-core/coordinator")
	}
	c := &Coordinator{
		graph:            graph,
		handler:          handler,
		instr:            instr,
		completed:        make(map[string]bool),
		handoffs:         make(map[string]*Handoff),
		byRequestingTask: make(map[string][]string),
		byProvidingTask:  make(map[string][]string),
		eventsByTask:     make(map[string][]Event),
		eventsByAgent:    make(map[string][]Event),
	}
	instr.Gauge("coordinator.pending_handoffs", func() float64 {
		return float64(c.pendingHandoffCount())
	})
	return c
}

func (c *Coordinator) pendingHandoffCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, h := range c.handoffs {
		if h.State == HandoffPending {
			n++
		}
	}
	return n
}

// Initialize seeds the completed-task set and creates one handoff per
// cross-agent dependency whose requesting task is not yet completed
// (§4.9). A handoff whose dependency task is already completed starts
// Ready; otherwise Pending.
func (c *Coordinator) Initialize(completedTasks map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for taskID := range completedTasks {
		c.completed[taskID] = true
	}

	for _, cad := range c.graph.CrossAgentDependencies() {
		if c.completed[cad.Task] {
			continue
		}
		handoffID := cad.DependencyTask + "->" + cad.Task
		if _, exists := c.handoffs[handoffID]; exists {
			continue
		}
		h := &Handoff{
			HandoffID:      handoffID,
			RequestingTask: cad.Task,
			DependencyTask: cad.DependencyTask,
			FromAgent:      cad.DependencyAgent,
			ToAgent:        cad.TaskAgent,
			State:          HandoffPending,
			CreatedAt:      time.Now().UTC(),
		}
		if c.completed[cad.DependencyTask] {
			now := time.Now().UTC()
			h.State = HandoffReady
			h.ReadyAt = &now
		}

		c.handoffs[h.HandoffID] = h
		c.byRequestingTask[h.RequestingTask] = append(c.byRequestingTask[h.RequestingTask], h.HandoffID)
		c.byProvidingTask[h.DependencyTask] = append(c.byProvidingTask[h.DependencyTask], h.HandoffID)

		c.emitLocked(Event{Type: EventHandoffCreated, HandoffID: h.HandoffID, TaskID: h.RequestingTask, AgentID: h.ToAgent})
	}
}

// MarkTaskCompleted records taskID as completed by agentID and transitions
// every Pending handoff depending on it to Ready, emitting handoff-ready
// and, where it newly unblocks the requesting task, task-unblocked (§4.9).
func (c *Coordinator) MarkTaskCompleted(taskID, agentID string) {
	_, span := c.instr.StartSpan(context.Background(), "coordinator.mark_task_completed")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.completed[taskID] = true

	unblockCandidates := make(map[string]bool)
	for _, hid := range c.byProvidingTask[taskID] {
		h := c.handoffs[hid]
		if h.State != HandoffPending {
			continue
		}
		now := time.Now().UTC()
		h.State = HandoffReady
		h.ReadyAt = &now
		c.emitLocked(Event{Type: EventHandoffReady, HandoffID: h.HandoffID, TaskID: h.RequestingTask, AgentID: h.ToAgent})
		unblockCandidates[h.RequestingTask] = true
	}

	for t := range unblockCandidates {
		if c.canTaskProceedLocked(t) {
			c.emitLocked(Event{Type: EventTaskUnblocked, TaskID: t})
		}
	}
}

// CompleteHandoff transitions handoffID from Ready to Completed, emitting
// handoff-completed. Any other source state is an error.
func (c *Coordinator) CompleteHandoff(handoffID string) error {
	_, span := c.instr.StartSpan(context.Background(), "coordinator.complete_handoff")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handoffs[handoffID]
	if !ok {
		return fmt.Errorf("coordinator: handoff not found: %s", handoffID)
	}
	if h.State != HandoffReady {
		return fmt.Errorf("coordinator: handoff %s is %s, not Ready", handoffID, h.State)
	}
	now := time.Now().UTC()
	h.State = HandoffCompleted
	h.CompletedAt = &now
	c.emitLocked(Event{Type: EventHandoffCompleted, HandoffID: h.HandoffID, TaskID: h.RequestingTask, AgentID: h.ToAgent})
	return nil
}

// FailHandoff transitions handoffID from Pending to Failed, recording
// reason and emitting handoff-failed (§2 invariant iv's Pending→Failed
// edge; used when the dependency task itself fails rather than completing,
// so the requesting task's handoff can never become Ready).
func (c *Coordinator) FailHandoff(handoffID, reason string) error {
	_, span := c.instr.StartSpan(context.Background(), "coordinator.fail_handoff")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handoffs[handoffID]
	if !ok {
		return fmt.Errorf("coordinator: handoff not found: %s", handoffID)
	}
	if h.State != HandoffPending {
		return fmt.Errorf("coordinator: handoff %s is %s, not Pending", handoffID, h.State)
	}
	h.State = HandoffFailed
	h.Error = reason
	c.emitLocked(Event{Type: EventHandoffFailed, HandoffID: h.HandoffID, TaskID: h.RequestingTask, AgentID: h.ToAgent})
	return nil
}

// CanTaskProceed reports whether every handoff addressed to t is Ready or
// Completed (vacuously true if t has none).
func (c *Coordinator) CanTaskProceed(t string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canTaskProceedLocked(t)
}

func (c *Coordinator) canTaskProceedLocked(t string) bool {
	for _, hid := range c.byRequestingTask[t] {
		h := c.handoffs[hid]
		if h.State != HandoffReady && h.State != HandoffCompleted {
			return false
		}
	}
	return true
}

// GetBlockedTasks returns the requesting tasks assigned to agent that are
// not yet clear to proceed.
func (c *Coordinator) GetBlockedTasks(agent string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for taskID, hids := range c.byRequestingTask {
		blocked := false
		var toAgent string
		for _, hid := range hids {
			h := c.handoffs[hid]
			toAgent = h.ToAgent
			if h.State != HandoffReady && h.State != HandoffCompleted {
				blocked = true
			}
		}
		if blocked && toAgent == agent && !seen[taskID] {
			seen[taskID] = true
			out = append(out, taskID)
		}
	}
	return out
}

// GetBlockingDependencies returns the dependency tasks standing between t
// and CanTaskProceed(t) becoming true.
func (c *Coordinator) GetBlockingDependencies(t string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, hid := range c.byRequestingTask[t] {
		h := c.handoffs[hid]
		if h.State != HandoffReady && h.State != HandoffCompleted {
			out = append(out, h.DependencyTask)
		}
	}
	return out
}

// GetAgentCoordinationState reports blocked tasks, outputs this agent has
// completed that others depend on, and this agent's pending/providing
// handoffs (§4.9).
func (c *Coordinator) GetAgentCoordinationState(agent string) AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()

	var state AgentState
	for _, h := range c.handoffs {
		if h.ToAgent == agent {
			if h.State != HandoffReady && h.State != HandoffCompleted {
				state.Blocked = append(state.Blocked, h)
			}
			if h.State == HandoffPending {
				state.Pending = append(state.Pending, h)
			}
		}
		if h.FromAgent == agent {
			state.Providing = append(state.Providing, h)
			if h.State == HandoffReady || h.State == HandoffCompleted {
				state.CompletedForOthers = append(state.CompletedForOthers, h)
			}
		}
	}
	return state
}

func (c *Coordinator) emitLocked(ev Event) {
	ev.Timestamp = time.Now().UTC()
	c.events = append(c.events, ev)
	if ev.TaskID != "" {
		c.eventsByTask[ev.TaskID] = append(c.eventsByTask[ev.TaskID], ev)
	}
	if ev.AgentID != "" {
		c.eventsByAgent[ev.AgentID] = append(c.eventsByAgent[ev.AgentID], ev)
	}
	c.handler(ev)
}

// Events returns every emitted event, oldest first.
func (c *Coordinator) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// EventsByTask returns every event tagged with taskID.
func (c *Coordinator) EventsByTask(taskID string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.eventsByTask[taskID]...)
}

// EventsByAgent returns every event tagged with agentID.
func (c *Coordinator) EventsByAgent(agentID string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.eventsByAgent[agentID]...)
}
