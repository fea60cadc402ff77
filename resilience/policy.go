// Package resilience implements the error handler and circuit breaker
// described in spec.md §4.6: per-message-type retry policies, a
// three-state circuit breaker, and best-effort recovery of specific
// malformed-but-fixable messages. Grounded on
// orchestration/task_worker.go's retry-classification shape, the teacher's
// error taxonomy in core.FrameworkError, and the teacher's
// resilience/circuit_breaker.go for the three-state breaker.
package resilience

import (
	"time"

	"github.com/apm-auto/coordination-core/platform"
	"github.com/apm-auto/coordination-core/protocol"
)

// RetryPolicy is a per-message-type retry schedule (§4.6).
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultPolicies returns the §4.6 default retry policy table, keyed by
// message type.
func DefaultPolicies() map[protocol.MessageType]RetryPolicy {
	return map[protocol.MessageType]RetryPolicy{
		protocol.TaskAssignment: {MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second, BackoffMultiplier: 2},
		protocol.TaskUpdate:     {MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 4 * time.Second, BackoffMultiplier: 2},
		protocol.StateSync:      {MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 4 * time.Second, BackoffMultiplier: 2},
		protocol.ErrorReport:    {MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second, BackoffMultiplier: 2},
		protocol.HandoffRequest: {MaxRetries: 2, BaseDelay: 2 * time.Second, MaxDelay: 8 * time.Second, BackoffMultiplier: 2},
		protocol.Ack:            {MaxRetries: 0, BaseDelay: 0, MaxDelay: 0, BackoffMultiplier: 1},
		protocol.Nack:           {MaxRetries: 0, BaseDelay: 0, MaxDelay: 0, BackoffMultiplier: 1},
	}
}

// policiesFromConfig overlays configured overrides onto the defaults.
func policiesFromConfig(overrides map[string]platform.RetryPolicyCfg) map[protocol.MessageType]RetryPolicy {
	policies := DefaultPolicies()
	for typ, cfg := range overrides {
		policies[protocol.MessageType(typ)] = RetryPolicy{
			MaxRetries:        cfg.MaxRetries,
			BaseDelay:         cfg.BaseDelay,
			MaxDelay:          cfg.MaxDelay,
			BackoffMultiplier: cfg.BackoffMultiplier,
		}
	}
	return policies
}

// backoffDelay computes baseDelay * multiplier^retryCount capped at maxDelay
// (§4.6 decision (d)).
func backoffDelay(p RetryPolicy, retryCount int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 0; i < retryCount; i++ {
		delay *= p.BackoffMultiplier
		if time.Duration(delay) >= p.MaxDelay && p.MaxDelay > 0 {
			return p.MaxDelay
		}
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
