package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apm-auto/coordination-core/obs"
	"github.com/apm-auto/coordination-core/platform"
	"github.com/apm-auto/coordination-core/protocol"
	"github.com/google/uuid"
)

// Metrics is the snapshot returned by GetMetrics (§4.4).
type Metrics struct {
	TotalSize      int
	SizeByPriority map[protocol.Priority]int
	MeanWaitMs     float64
	OldestAgeMs    float64
}

// PriorityQueue is the three-priority persistent FIFO (§4.4). One instance
// owns exactly one agent's durable log.
type PriorityQueue struct {
	agentID string
	dir     string
	maxSize int
	logger  platform.Logger
	instr   *obs.Instruments

	mu       sync.Mutex
	lists    map[protocol.Priority][]*Entry
	waitStat ring

	compactStop chan struct{}
	compactDone chan struct{}
}

const highWatermarkRatio = 0.9

var priorityOrder = []protocol.Priority{protocol.PriorityHigh, protocol.PriorityNormal, protocol.PriorityLow}

// ring is the same fixed-capacity rolling-window shape used by
// serialization.Serializer (§9c), specialized here to wait-time samples.
type ring struct {
	samples [100]time.Duration
	count   int
	next    int
}

func (r *ring) push(d time.Duration) {
	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *ring) mean() time.Duration {
	if r.count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < r.count; i++ {
		total += r.samples[i]
	}
	return total / time.Duration(r.count)
}

// New opens (or creates) the durable queue log for agentID under dir,
// replays any live entries from it, and starts the compaction ticker.
func New(agentID, dir string, maxSize int, compactionInterval time.Duration, logger platform.ComponentAwareLogger, instr *obs.Instruments) (*PriorityQueue, error) {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if instr == nil {
		instr = obs.New("coordination-core/queue")
	}

	q := &PriorityQueue{
		agentID:     agentID,
		dir:         dir,
		maxSize:     maxSize,
		logger:      logger.WithComponent("queue"),
		instr:       instr,
		lists:       make(map[protocol.Priority][]*Entry, len(priorityOrder)),
		compactStop: make(chan struct{}),
		compactDone: make(chan struct{}),
	}
	for _, p := range priorityOrder {
		q.lists[p] = nil
	}

	entries, err := replay(dir, agentID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		q.lists[e.Priority] = append(q.lists[e.Priority], e)
	}

	if compactionInterval > 0 {
		go q.compactLoop(compactionInterval)
	} else {
		close(q.compactDone)
	}

	return q, nil
}

// Enqueue assigns a fresh entryId, applies the overflow policy if the queue
// is at capacity, appends to the in-memory list and the durable log, and
// returns the assigned entryId.
func (q *PriorityQueue) Enqueue(env *protocol.Envelope, priority protocol.Priority) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := q.totalLocked()
	if total >= q.maxSize {
		if err := q.applyOverflowLocked(priority); err != nil {
			return "", err
		}
	}

	e := &Entry{
		EntryID:  "qe_" + uuidAlnum(),
		Envelope: env,
		QueuedAt: time.Now(),
		Priority: priority,
	}
	q.lists[priority] = append(q.lists[priority], e)

	if err := appendEntry(q.dir, q.agentID, e); err != nil {
		// Roll back the in-memory append; the durable log is the source of
		// truth on restart and must not diverge from what's in memory.
		q.lists[priority] = q.lists[priority][:len(q.lists[priority])-1]
		return "", fmt.Errorf("queue: persisting entry: %w", err)
	}

	newTotal := total + 1
	if float64(newTotal) > highWatermarkRatio*float64(q.maxSize) {
		q.logger.Warn("queue approaching capacity", map[string]interface{}{
			"size": newTotal, "maxSize": q.maxSize,
		})
	}

	q.instr.Counter(context.Background(), "queue.enqueued_total", 1, obs.Attr("priority", string(priority)))
	return e.EntryID, nil
}

// applyOverflowLocked implements §4.4's overflow policy. Caller holds q.mu.
func (q *PriorityQueue) applyOverflowLocked(incoming protocol.Priority) error {
	if len(q.lists[protocol.PriorityLow]) > 0 {
		q.dropOldestLocked(protocol.PriorityLow)
		return nil
	}
	if incoming == protocol.PriorityHigh && len(q.lists[protocol.PriorityNormal]) > 0 {
		q.dropOldestLocked(protocol.PriorityNormal)
		return nil
	}
	q.instr.Counter(context.Background(), "queue.rejected_total", 1)
	return fmt.Errorf("queue: %w", platform.ErrQueueFull)
}

func (q *PriorityQueue) dropOldestLocked(p protocol.Priority) {
	dropped := q.lists[p][0]
	q.lists[p] = q.lists[p][1:]
	q.logger.Warn("dropping queued message due to overflow", map[string]interface{}{
		"entryId":  dropped.EntryID,
		"priority": p,
	})
	q.instr.Counter(context.Background(), "queue.dropped_total", 1, obs.Attr("priority", string(p)))
}

// Dequeue returns and removes the oldest HIGH entry, else the oldest
// NORMAL, else the oldest LOW. Returns nil, false if the queue is empty.
func (q *PriorityQueue) Dequeue() (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range priorityOrder {
		if len(q.lists[p]) > 0 {
			e := q.lists[p][0]
			q.lists[p] = q.lists[p][1:]
			q.waitStat.push(time.Since(e.QueuedAt))
			q.instr.Histogram(context.Background(), "queue.wait_time_ms", float64(time.Since(e.QueuedAt).Milliseconds()))
			return e, true
		}
	}
	return nil, false
}

// Peek returns the same candidate Dequeue would, without removing it.
func (q *PriorityQueue) Peek() (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range priorityOrder {
		if len(q.lists[p]) > 0 {
			return q.lists[p][0], true
		}
	}
	return nil, false
}

// Size returns the total number of entries across all priorities.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalLocked()
}

func (q *PriorityQueue) totalLocked() int {
	total := 0
	for _, p := range priorityOrder {
		total += len(q.lists[p])
	}
	return total
}

// SizeByPriority returns the entry count for one priority level.
func (q *PriorityQueue) SizeByPriority(p protocol.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists[p])
}

// IsEmpty reports whether the queue holds no entries.
func (q *PriorityQueue) IsEmpty() bool {
	return q.Size() == 0
}

// Clear discards every in-memory entry and rewrites the durable log empty.
func (q *PriorityQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range priorityOrder {
		q.lists[p] = nil
	}
	return compact(q.dir, q.agentID, nil)
}

// GetMetrics reports counts, per-priority depth, mean wait, and the age of
// the oldest queued entry (§4.4).
func (q *PriorityQueue) GetMetrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := Metrics{
		SizeByPriority: make(map[protocol.Priority]int, len(priorityOrder)),
		MeanWaitMs:     float64(q.waitStat.mean().Milliseconds()),
	}
	var oldest time.Time
	for _, p := range priorityOrder {
		m.SizeByPriority[p] = len(q.lists[p])
		m.TotalSize += len(q.lists[p])
		if len(q.lists[p]) > 0 {
			t := q.lists[p][0].QueuedAt
			if oldest.IsZero() || t.Before(oldest) {
				oldest = t
			}
		}
	}
	if !oldest.IsZero() {
		m.OldestAgeMs = float64(time.Since(oldest).Milliseconds())
	}
	return m
}

// Shutdown stops the compaction loop and performs one final flush.
func (q *PriorityQueue) Shutdown() error {
	if q.compactStop != nil {
		close(q.compactStop)
		<-q.compactDone
	}
	return q.flush()
}

func (q *PriorityQueue) flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	live := make([]*Entry, 0, q.totalLocked())
	for _, p := range priorityOrder {
		live = append(live, q.lists[p]...)
	}
	return compact(q.dir, q.agentID, live)
}

func (q *PriorityQueue) compactLoop(interval time.Duration) {
	defer close(q.compactDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := q.flush(); err != nil {
				q.logger.Error("queue compaction failed", map[string]interface{}{"error": err.Error()})
			}
		case <-q.compactStop:
			return
		}
	}
}

func uuidAlnum() string {
	u := uuid.New()
	s := u.String()
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r != '-' {
			out = append(out, byte(r))
		}
	}
	return string(out)
}
