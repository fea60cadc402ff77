package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/apm-auto/coordination-core/obs"
	"github.com/apm-auto/coordination-core/platform"
	"github.com/apm-auto/coordination-core/protocol"
	"github.com/apm-auto/coordination-core/validation"
	"github.com/google/uuid"
)

// DeadLetterSink is the minimal surface the error handler needs from the
// dead letter queue; satisfied by *dlq.Queue without resilience importing
// dlq (which itself depends on nothing here, but keeps the dependency
// direction one-way).
type DeadLetterSink interface {
	Add(ctx context.Context, env *protocol.Envelope, reason, errorCode string, failure protocol.FailureRecord) error
}

// SendOutcome is handleSendFailure's verdict.
type SendOutcome struct {
	ShouldRetry bool
	Delay       time.Duration
	Reason      string
}

// Handler implements handleSendFailure/handleReceiveFailure (§4.6).
type Handler struct {
	dlqPath       string
	enableRetries bool
	policies      map[protocol.MessageType]RetryPolicy
	breaker       *CircuitBreaker
	dlq           DeadLetterSink
	logger        platform.Logger
	instr         *obs.Instruments
}

// NewHandler builds a Handler from configuration. dlq may be nil if the
// caller only wants retry/circuit-breaker decisions without DLQ routing.
func NewHandler(cfg *platform.ResilienceConfig, dlq DeadLetterSink, logger platform.ComponentAwareLogger, instr *obs.Instruments) *Handler {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if instr == nil {
		instr = obs.New("coordination-core/resilience")
	}
	return &Handler{
		dlqPath:       cfg.DLQPath,
		enableRetries: cfg.EnableRetries,
		policies:      policiesFromConfig(cfg.RetryPolicies),
		breaker:       NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout),
		dlq:           dlq,
		logger:        logger.WithComponent("resilience"),
		instr:         instr,
	}
}

// Breaker exposes the handler's circuit breaker for inspection (§4.6's
// observable circuit-breaker state).
func (h *Handler) Breaker() *CircuitBreaker { return h.breaker }

// HandleSendFailure implements the §4.6 decision order for a failed send
// of env, whose most recent attempt failed with err at retryCount prior
// attempts. retryHistory, if the caller (typically the delivery tracker)
// has one, is carried onto the DLQ entry should this attempt be terminal.
func (h *Handler) HandleSendFailure(ctx context.Context, env *protocol.Envelope, sendErr error, retryCount int, retryHistory []protocol.RetryAttempt) SendOutcome {
	if !h.breaker.Allow() {
		h.routeToDLQ(ctx, env, "circuit_breaker_open", "CIRCUIT_OPEN", sendErr, retryHistory)
		return SendOutcome{ShouldRetry: false, Reason: "circuit_breaker_open"}
	}

	if isNonRecoverable(sendErr) {
		h.breaker.RecordFailure()
		h.routeToDLQ(ctx, env, "permanent_protocol_error", "PERMANENT_PROTOCOL_ERROR", sendErr, retryHistory)
		return SendOutcome{ShouldRetry: false, Reason: "permanent_protocol_error"}
	}

	policy := h.policies[env.MessageType]
	if !h.enableRetries || retryCount >= policy.MaxRetries {
		h.breaker.RecordFailure()
		h.routeToDLQ(ctx, env, "max_retries_exceeded", "MAX_RETRIES_EXCEEDED", sendErr, retryHistory)
		return SendOutcome{ShouldRetry: false, Reason: "max_retries_exceeded"}
	}

	h.breaker.RecordFailure()
	delay := backoffDelay(policy, retryCount)
	return SendOutcome{ShouldRetry: true, Delay: delay, Reason: "retry_scheduled"}
}

// RecordSendSuccess tells the circuit breaker about a successful send,
// advancing HALF_OPEN→CLOSED or decrementing the CLOSED failure count.
func (h *Handler) RecordSendSuccess() {
	h.breaker.RecordSuccess()
}

func (h *Handler) routeToDLQ(ctx context.Context, env *protocol.Envelope, reason, errorCode string, sendErr error, retryHistory []protocol.RetryAttempt) {
	ts := time.Now().UTC()
	path := filepath.Join(h.dlqPath, fmt.Sprintf("failed_%s_%d.json", env.MessageID, ts.UnixNano()))
	artifact := map[string]interface{}{
		"messageId": env.MessageID,
		"reason":    reason,
		"errorCode": errorCode,
		"timestamp": ts,
		"envelope":  env,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err == nil {
		if werr := platform.AtomicWriteFile(path, data, 0o644); werr != nil {
			h.logger.Error("failed to write dlq artifact", map[string]interface{}{"error": werr.Error()})
		}
	}

	if h.dlq != nil {
		failure := protocol.FailureRecord{
			RetryHistory:        retryHistory,
			CircuitBreakerState: string(h.breaker.State()),
		}
		if sendErr != nil {
			failure.FailureMessage = sendErr.Error()
		}
		if err := h.dlq.Add(ctx, env, reason, errorCode, failure); err != nil {
			h.logger.Error("failed to add message to dead letter queue", map[string]interface{}{
				"messageId": env.MessageID, "error": err.Error(),
			})
		}
	}
	h.instr.Counter(ctx, "resilience.dlq_routed_total", 1, obs.Attr("reason", reason))
}

// HandleReceiveFailure handles a raw line that failed to parse or validate
// on receipt. It never re-enters the queue (§7 propagation policy iv);
// instead it writes a malformed_<ts>.json artifact.
func (h *Handler) HandleReceiveFailure(ctx context.Context, rawLine []byte, issues []validation.Issue) error {
	ts := time.Now().UTC()
	path := filepath.Join(h.dlqPath, fmt.Sprintf("malformed_%d.json", ts.UnixNano()))
	artifact := map[string]interface{}{
		"raw":       string(rawLine),
		"timestamp": ts,
		"issues":    issues,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("resilience: marshaling malformed artifact: %w", err)
	}
	if err := platform.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("resilience: writing malformed artifact: %w", err)
	}
	h.instr.Counter(ctx, "resilience.malformed_total", 1)
	return nil
}

func isNonRecoverable(err error) bool {
	return !platform.IsRetryable(err)
}

// Recover attempts the §4.6 best-effort repairs for specific, narrowly
// scoped defects: missing priority, missing metadata, an invalid (zero)
// timestamp, and a missing correlationId on a type that requires one. It
// returns a corrected copy and whether any repair was applied.
func Recover(env *protocol.Envelope) (*protocol.Envelope, bool) {
	fixed := *env
	changed := false

	if fixed.Priority == "" {
		fixed.Priority = protocol.PriorityNormal
		changed = true
	}
	if fixed.Metadata == nil {
		fixed.Metadata = &protocol.Metadata{}
		changed = true
	}
	if fixed.Timestamp.IsZero() {
		fixed.Timestamp = time.Now().UTC()
		changed = true
	}
	if fixed.CorrelationID == "" && protocol.RequiresCorrelationID(fixed.MessageType) {
		fixed.CorrelationID = "req_" + time.Now().UTC().Format("20060102150405") + "_" + alnum(uuid.New())
		changed = true
	}

	return &fixed, changed
}

func alnum(u uuid.UUID) string {
	s := u.String()
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r != '-' {
			out = append(out, byte(r))
		}
	}
	return string(out)
}
