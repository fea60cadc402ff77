package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apm-auto/coordination-core/obs"
	"github.com/apm-auto/coordination-core/platform"
	"github.com/apm-auto/coordination-core/protocol"
)

// Tracker is the per-agent delivery tracker (§4.5). It owns exactly one
// agent's delivery-state snapshot file.
type Tracker struct {
	agentID    string
	dir        string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	handler    EventHandler
	logger     platform.Logger
	instr      *obs.Instruments

	mu     sync.Mutex
	states map[string]*State
	timers map[string]*time.Timer
}

// NewTracker restores any persisted delivery state from dir and resumes
// its timers per §4.5's restart rules.
func NewTracker(agentID, dir string, maxRetries int, baseDelay, maxDelay time.Duration, handler EventHandler, logger platform.ComponentAwareLogger, instr *obs.Instruments) (*Tracker, error) {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if instr == nil {
		instr = obs.New("coordination-core/delivery")
	}
	if handler == nil {
		handler = func(Event) {}
	}

	snap, err := loadSnapshot(dir, agentID)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		agentID:    agentID,
		dir:        dir,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		handler:    handler,
		logger:     logger.WithComponent("delivery"),
		instr:      instr,
		states:     snap.Deliveries,
		timers:     make(map[string]*time.Timer),
	}

	now := time.Now()
	for id, st := range t.states {
		switch {
		case st.NextRetryAt != nil:
			d := st.NextRetryAt.Sub(now)
			if d < 0 {
				d = 0
			}
			t.armTimer(id, d)
		case now.Before(st.TimeoutAt):
			t.armTimer(id, st.TimeoutAt.Sub(now))
		default:
			t.evaluate(id)
		}
	}

	return t, nil
}

// TrackSentMessage records a delivery state for env and arms a timeout
// timer. ACK and NACK messages are not tracked (§4.5).
func (t *Tracker) TrackSentMessage(env *protocol.Envelope) error {
	if !requiresTracking(env.MessageType) {
		return nil
	}
	timeout := protocol.DefaultTimeout(env.MessageType)
	if timeout <= 0 {
		return nil
	}

	t.mu.Lock()
	st := &State{
		MessageID:     env.MessageID,
		CorrelationID: env.CorrelationID,
		MessageType:   env.MessageType,
		Envelope:      env,
		SentAt:        time.Now(),
		TimeoutAt:     time.Now().Add(timeout),
	}
	t.states[env.MessageID] = st
	if err := t.persistLocked(); err != nil {
		delete(t.states, env.MessageID)
		t.mu.Unlock()
		return err
	}
	t.armTimerLocked(env.MessageID, timeout)
	t.mu.Unlock()

	t.emit(Event{
		Type:          EventMessageSent,
		MessageID:     env.MessageID,
		CorrelationID: env.CorrelationID,
		MessageType:   env.MessageType,
		Timestamp:     time.Now(),
	})
	t.instr.Counter(context.Background(), "delivery.sent_total", 1, obs.Attr("messageType", string(env.MessageType)))
	return nil
}

// HandleAck processes an ACK for messageID. Duplicate or unknown ACKs are
// safe no-ops (§8 property 7).
func (t *Tracker) HandleAck(messageID string, ack *protocol.AckPayload) {
	t.mu.Lock()
	st, ok := t.states[messageID]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("ack for untracked or already-acknowledged message", map[string]interface{}{"messageId": messageID})
		return
	}
	t.cancelTimerLocked(messageID)
	delete(t.states, messageID)
	_ = t.persistLocked()
	t.mu.Unlock()

	t.emit(Event{
		Type:          EventMessageAcknowledged,
		MessageID:     messageID,
		CorrelationID: st.CorrelationID,
		MessageType:   st.MessageType,
		Timestamp:     time.Now(),
		Context:       map[string]interface{}{"ackStatus": ack.Status},
	})
}

// HandleNack processes a NACK for messageID. A non-recoverable NACK
// (CanRetry=false) fails the delivery immediately; a recoverable one is
// evaluated exactly as a timeout would be.
func (t *Tracker) HandleNack(messageID string, nack *protocol.NackPayload) error {
	t.mu.Lock()
	st, ok := t.states[messageID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("delivery: %w: %s", platform.ErrNotTracked, messageID)
	}
	t.cancelTimerLocked(messageID)

	if !nack.CanRetry {
		delete(t.states, messageID)
		retryHistory := st.RetryHistory
		_ = t.persistLocked()
		t.mu.Unlock()
		t.emit(Event{
			Type:          EventMessageFailed,
			MessageID:     messageID,
			CorrelationID: st.CorrelationID,
			MessageType:   st.MessageType,
			Timestamp:     time.Now(),
			Context: map[string]interface{}{
				"failureReason": nack.Reason,
				"nackErrorCode": nack.ErrorCode,
				"retryHistory":  retryHistory,
			},
		})
		return nil
	}

	t.mu.Unlock()
	t.evaluate(messageID)
	return nil
}

// evaluate is the shared retry/fail decision used by both NACK-recoverable
// and timeout paths (§4.5): if retryCount has reached maxRetries, the
// delivery fails and moves out of tracking; otherwise retryCount is
// incremented, a backoff timer is armed, and MESSAGE_RETRY is emitted so
// the caller can resend.
func (t *Tracker) evaluate(messageID string) {
	t.mu.Lock()
	st, ok := t.states[messageID]
	if !ok {
		t.mu.Unlock()
		return
	}

	if st.RetryCount >= t.maxRetries {
		delete(t.states, messageID)
		delete(t.timers, messageID)
		retryHistory := st.RetryHistory
		_ = t.persistLocked()
		t.mu.Unlock()

		t.emit(Event{
			Type:          EventMessageFailed,
			MessageID:     messageID,
			CorrelationID: st.CorrelationID,
			MessageType:   st.MessageType,
			Timestamp:     time.Now(),
			Context: map[string]interface{}{
				"failureReason": "max_retries_exceeded",
				"retryCount":    st.RetryCount,
				"retryHistory":  retryHistory,
			},
		})
		t.instr.Counter(context.Background(), "delivery.failed_total", 1, obs.Attr("messageType", string(st.MessageType)))
		return
	}

	st.RetryCount++
	delay := retryDelay(st.RetryCount, t.baseDelay, t.maxDelay)
	next := time.Now().Add(delay)
	st.NextRetryAt = &next
	st.RetryHistory = append(st.RetryHistory, protocol.RetryAttempt{AttemptNumber: st.RetryCount, Timestamp: time.Now()})
	_ = t.persistLocked()
	t.armTimerLocked(messageID, delay)
	retryCount := st.RetryCount
	t.mu.Unlock()

	t.emit(Event{
		Type:          EventMessageRetry,
		MessageID:     messageID,
		CorrelationID: st.CorrelationID,
		MessageType:   st.MessageType,
		Timestamp:     time.Now(),
		Context:       map[string]interface{}{"retryCount": retryCount},
	})
	t.instr.Counter(context.Background(), "delivery.retried_total", 1, obs.Attr("messageType", string(st.MessageType)))
}

// armTimer acquires the lock; armTimerLocked assumes it is already held.
func (t *Tracker) armTimer(messageID string, d time.Duration) {
	t.mu.Lock()
	t.armTimerLocked(messageID, d)
	t.mu.Unlock()
}

func (t *Tracker) armTimerLocked(messageID string, d time.Duration) {
	if existing, ok := t.timers[messageID]; ok {
		existing.Stop()
	}
	t.timers[messageID] = time.AfterFunc(d, func() { t.evaluate(messageID) })
}

func (t *Tracker) cancelTimerLocked(messageID string) {
	if timer, ok := t.timers[messageID]; ok {
		timer.Stop()
		delete(t.timers, messageID)
	}
}

func (t *Tracker) persistLocked() error {
	if err := saveSnapshot(t.dir, t.agentID, t.states); err != nil {
		return fmt.Errorf("delivery: persisting snapshot: %w", err)
	}
	return nil
}

func (t *Tracker) emit(ev Event) {
	t.handler(ev)
}

// Pending reports the number of in-flight tracked deliveries.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// Shutdown cancels every pending timer and performs a final persistence
// flush (§5).
func (t *Tracker) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	return t.persistLocked()
}
