package resilience

import (
	"sync"
	"time"
)

// CircuitState is one of the three circuit-breaker states (§4.6).
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitBreaker implements the CLOSED→OPEN→HALF_OPEN→CLOSED state machine
// (§4.6, §9 Open Question b): a failure recorded while HALF_OPEN returns
// immediately to OPEN and reschedules the timeout window, rather than
// requiring a fresh run of consecutive failures.
type CircuitBreaker struct {
	threshold int
	timeout   time.Duration

	mu        sync.Mutex
	state     CircuitState
	failures  int
	openedAt  time.Time
}

// NewCircuitBreaker creates a breaker starting CLOSED.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, timeout: timeout, state: CircuitClosed}
}

// Allow reports whether a send attempt should proceed, transitioning
// OPEN→HALF_OPEN and resetting the failure counter once the timeout has
// elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Since(cb.openedAt) >= cb.timeout {
			cb.state = CircuitHalfOpen
			cb.failures = 0
			return true
		}
		return false
	}
	return true
}

// RecordFailure increments the failure counter, opening the circuit at
// threshold (from CLOSED) or immediately re-opening it (from HALF_OPEN).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		cb.failures = cb.threshold
		return
	}

	cb.failures++
	if cb.failures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}

// RecordSuccess decrements the failure counter (floor 0) in CLOSED or
// HALF_OPEN, closing the circuit fully from HALF_OPEN (§4.6).
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		cb.failures = 0
	case CircuitClosed:
		if cb.failures > 0 {
			cb.failures--
		}
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
