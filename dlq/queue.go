package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/apm-auto/coordination-core/obs"
	"github.com/apm-auto/coordination-core/platform"
	"github.com/apm-auto/coordination-core/protocol"
)

// Queue is the per-agent dead letter queue (§4.7).
type Queue struct {
	agentID       string
	dir           string
	maxSize       int
	retentionDays int
	warningAt     int
	criticalAt    int
	logger        platform.Logger
	instr         *obs.Instruments

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

// New opens (or creates) the DLQ's durable log for agentID and loads any
// existing entries.
func New(agentID, dir string, cfg platform.DLQConfig, logger platform.ComponentAwareLogger, instr *obs.Instruments) (*Queue, error) {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if instr == nil {
		instr = obs.New("coordination-core/dlq")
	}

	existing, err := loadEntries(dir, agentID)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		agentID:       agentID,
		dir:           dir,
		maxSize:       cfg.MaxSize,
		retentionDays: cfg.RetentionDays,
		warningAt:     cfg.WarningThreshold,
		criticalAt:    cfg.CriticalThreshold,
		logger:        logger.WithComponent("dlq"),
		instr:         instr,
		entries:       make(map[string]*Entry, len(existing)),
		order:         make([]string, 0, len(existing)),
	}
	for _, e := range existing {
		q.entries[e.EntryID] = e
		q.order = append(q.order, e.EntryID)
	}
	return q, nil
}

// Add inserts an entry keyed by the envelope's messageId (§3 "DLQ entry");
// a duplicate messageId is a no-op (§2 invariant iii, §8 property 10). On
// reaching maxSize, the oldest entry is auto-purged before the new one is
// added. failure carries the optional retry-history/state metadata the
// caller has on hand; its zero value is a valid, minimal entry.
func (q *Queue) Add(ctx context.Context, env *protocol.Envelope, reason, errorCode string, failure protocol.FailureRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[env.MessageID]; exists {
		return nil
	}

	if len(q.order) >= q.maxSize {
		if err := q.autoPurgeOldestLocked(); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	entry := &Entry{
		EntryID:             env.MessageID,
		Envelope:            env,
		FailureReason:       reason,
		FailureMessage:      failure.FailureMessage,
		ErrorCode:           errorCode,
		RetryHistory:        failure.RetryHistory,
		FailedAt:            now,
		ReceiverID:          env.Receiver.AgentID,
		ReceiverState:       failure.ReceiverState,
		CircuitBreakerState: failure.CircuitBreakerState,
		AddedAt:             now,
	}
	q.entries[entry.EntryID] = entry
	q.order = append(q.order, entry.EntryID)

	if err := appendEntry(q.dir, q.agentID, entry); err != nil {
		delete(q.entries, entry.EntryID)
		q.order = q.order[:len(q.order)-1]
		return fmt.Errorf("dlq: persisting entry: %w", err)
	}
	if err := appendAudit(q.dir, q.agentID, AuditRecord{Operation: "add", EntryID: entry.EntryID, Reason: reason}); err != nil {
		q.logger.Error("failed to append dlq audit record", map[string]interface{}{"error": err.Error()})
	}

	q.alertLocked()
	q.instr.Counter(ctx, "dlq.added_total", 1, obs.Attr("reason", reason))
	return nil
}

func (q *Queue) alertLocked() {
	n := len(q.order)
	if n >= q.criticalAt {
		q.logger.Error("dlq size at or above critical threshold", map[string]interface{}{"size": n, "threshold": q.criticalAt})
	} else if n >= q.warningAt {
		q.logger.Warn("dlq size at or above warning threshold", map[string]interface{}{"size": n, "threshold": q.warningAt})
	}
}

// autoPurgeOldestLocked exports and removes the single oldest entry by
// addedAt (§4.7). Caller holds q.mu.
func (q *Queue) autoPurgeOldestLocked() error {
	if len(q.order) == 0 {
		return nil
	}
	sort.SliceStable(q.order, func(i, j int) bool {
		return q.entries[q.order[i]].AddedAt.Before(q.entries[q.order[j]].AddedAt)
	})
	oldestID := q.order[0]
	oldest := q.entries[oldestID]

	path := filepath.Join(q.dir, fmt.Sprintf("purged-%s.json", oldestID))
	data, err := json.MarshalIndent(oldest, "", "  ")
	if err != nil {
		return fmt.Errorf("dlq: marshaling purged entry: %w", err)
	}
	if err := platform.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("dlq: writing purged entry: %w", err)
	}

	delete(q.entries, oldestID)
	q.order = q.order[1:]
	if err := q.rewriteLocked(); err != nil {
		return err
	}
	return appendAudit(q.dir, q.agentID, AuditRecord{Operation: "purge", EntryID: oldestID})
}

func (q *Queue) rewriteLocked() error {
	live := make([]*Entry, 0, len(q.order))
	for _, id := range q.order {
		live = append(live, q.entries[id])
	}
	return rewrite(q.dir, q.agentID, live)
}

// List returns entries matching filter, oldest first.
func (q *Queue) List(filter Filter) []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Entry, 0, len(q.order))
	for _, id := range q.order {
		e := q.entries[id]
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Get returns a single entry by id.
func (q *Queue) Get(entryID string) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("dlq: %w: %s", platform.ErrNotFound, entryID)
	}
	return e, nil
}

// Retry removes entryID from the DLQ and returns its original envelope
// for resending (§4.7).
func (q *Queue) Retry(entryID, actor string) (*protocol.Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("dlq: %w: %s", platform.ErrNotFound, entryID)
	}
	q.removeLocked(entryID)
	if err := q.rewriteLocked(); err != nil {
		return nil, err
	}
	if err := appendAudit(q.dir, q.agentID, AuditRecord{Operation: "retry", EntryID: entryID, Actor: actor}); err != nil {
		q.logger.Error("failed to append dlq audit record", map[string]interface{}{"error": err.Error()})
	}
	return e.Envelope, nil
}

// Discard removes entryID from the DLQ without returning it.
func (q *Queue) Discard(entryID, actor, justification string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[entryID]; !ok {
		return fmt.Errorf("dlq: %w: %s", platform.ErrNotFound, entryID)
	}
	q.removeLocked(entryID)
	if err := q.rewriteLocked(); err != nil {
		return err
	}
	return appendAudit(q.dir, q.agentID, AuditRecord{Operation: "discard", EntryID: entryID, Actor: actor, Reason: justification})
}

func (q *Queue) removeLocked(entryID string) {
	delete(q.entries, entryID)
	for i, id := range q.order {
		if id == entryID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// exportSnapshot is the shape written by Export/PurgeExpired.
type exportSnapshot struct {
	AgentID      string    `json:"agentId"`
	ExportedAt   time.Time `json:"exportedAt"`
	TotalEntries int       `json:"totalEntries"`
	Entries      []*Entry  `json:"entries"`
}

// Export writes every current entry to path as a JSON snapshot.
func (q *Queue) Export(path string) error {
	q.mu.Lock()
	entries := make([]*Entry, 0, len(q.order))
	for _, id := range q.order {
		entries = append(entries, q.entries[id])
	}
	q.mu.Unlock()

	snap := exportSnapshot{AgentID: q.agentID, ExportedAt: time.Now().UTC(), TotalEntries: len(entries), Entries: entries}
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("dlq: marshaling export snapshot: %w", err)
	}
	return platform.AtomicWriteFile(path, data, 0o644)
}

// PurgeExpired removes every entry older than retentionDays, exporting
// them to expired-<iso>.json and appending one audit record (§4.7).
func (q *Queue) PurgeExpired() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -q.retentionDays)
	var expired []*Entry
	var keptOrder []string
	for _, id := range q.order {
		e := q.entries[id]
		if e.AddedAt.Before(cutoff) {
			expired = append(expired, e)
			delete(q.entries, id)
		} else {
			keptOrder = append(keptOrder, id)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	q.order = keptOrder

	iso := time.Now().UTC().Format(time.RFC3339)
	path := filepath.Join(q.dir, fmt.Sprintf("expired-%s.json", iso))
	snap := exportSnapshot{AgentID: q.agentID, ExportedAt: time.Now().UTC(), TotalEntries: len(expired), Entries: expired}
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("dlq: marshaling expired snapshot: %w", err)
	}
	if err := platform.AtomicWriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("dlq: writing expired snapshot: %w", err)
	}
	if err := q.rewriteLocked(); err != nil {
		return 0, err
	}
	if err := appendAudit(q.dir, q.agentID, AuditRecord{Operation: "purge", Details: map[string]interface{}{"count": len(expired)}}); err != nil {
		q.logger.Error("failed to append dlq audit record", map[string]interface{}{"error": err.Error()})
	}
	return len(expired), nil
}

// GetStats reports the §4.7 observable statistics.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		TotalEntries: len(q.order),
		ByReason:     make(map[string]int),
		ByErrorCode:  make(map[string]int),
	}

	var oldest time.Time
	var lastHour int
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	for _, id := range q.order {
		e := q.entries[id]
		s.ByReason[e.FailureReason]++
		s.ByErrorCode[e.ErrorCode]++
		if oldest.IsZero() || e.AddedAt.Before(oldest) {
			oldest = e.AddedAt
		}
		if e.AddedAt.After(cutoff) {
			lastHour++
		}
	}
	if !oldest.IsZero() {
		s.OldestEntryAgeMs = float64(time.Since(oldest).Milliseconds())
	}
	s.GrowthPerHour = float64(lastHour) / 24.0

	s.Top5Reasons = topReasons(s.ByReason, 5)
	return s
}

func topReasons(counts map[string]int, n int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for reason, count := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
