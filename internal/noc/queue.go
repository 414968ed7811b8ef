package noc

import (
	"sync"
	"time"

	"github.com/argusops/argus/internal/metrics"
	"github.com/argusops/argus/internal/models"
)

// DecisionKind tags the two decision variants.
type DecisionKind string

const (
	// DecisionHandleCreate carries the single highest-priority CREATE of a
	// snapshot.
	DecisionHandleCreate DecisionKind = "HandleCreate"
	// DecisionHandleCancels carries all unsuppressed CANCELs of a snapshot.
	DecisionHandleCancels DecisionKind = "HandleCancels"
)

// Decision is one queue element produced by the snapshotter.
type Decision struct {
	Kind          DecisionKind
	Alert         models.Alert
	Alerts        []models.Alert
	SnapshotTime  time.Time
	CorrelationID string
}

// Queue is the FIFO decision queue drained by a single dispatcher worker.
type Queue struct {
	mu    sync.Mutex
	items []Decision
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a decision.
func (q *Queue) Enqueue(d Decision) {
	q.mu.Lock()
	q.items = append(q.items, d)
	depth := len(q.items)
	q.mu.Unlock()
	metrics.SetQueueDepth(depth)
}

// Dequeue pops the oldest decision, if any.
func (q *Queue) Dequeue() (Decision, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Decision{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	metrics.SetQueueDepth(len(q.items))
	return d, true
}

// Len returns the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
