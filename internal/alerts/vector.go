package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/argusops/argus/internal/metrics"
	"github.com/argusops/argus/internal/models"
)

// Vector is the priority-ordered mapping of fingerprint to active alert. It
// is the serialization point for alert state: every mutation takes the lock
// and stamps LastSeenTick/LastSeenTimestamp from the central timer.
type Vector struct {
	mu          sync.Mutex
	alerts      map[string]models.Alert
	ticks       TickSource
	suppression *SuppressionCache
	ttlTicks    int64
	logger      *zap.Logger
}

func NewVector(ticks TickSource, suppression *SuppressionCache, ttl time.Duration, logger *zap.Logger) *Vector {
	return &Vector{
		alerts:      make(map[string]models.Alert),
		ticks:       ticks,
		suppression: suppression,
		ttlTicks:    int64(ttl / time.Second),
		logger:      logger,
	}
}

// UpdateAlert upserts an alert. A CANCEL for an unknown fingerprint is
// ignored; a repeated CANCEL only refreshes the last-seen stamps.
func (v *Vector) UpdateAlert(a models.Alert) error {
	if a.Fingerprint == "" {
		v.logger.Warn("rejecting alert with empty fingerprint",
			zap.String("name", a.Name),
			zap.String("source", a.Source))
		return fmt.Errorf("alert fingerprint must not be empty")
	}
	if a.Status != models.StatusCreate && a.Status != models.StatusCancel {
		v.logger.Warn("rejecting alert with unknown status",
			zap.String("fingerprint", a.Fingerprint),
			zap.String("status", string(a.Status)))
		return fmt.Errorf("unknown alert status %q", a.Status)
	}

	tick := v.ticks.TickCount()
	now := v.ticks.HeartbeatTimestamp()
	if now.IsZero() {
		now = time.Now()
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	existing, exists := v.alerts[a.Fingerprint]

	// A CANCEL can never introduce an entry.
	if !exists && a.Status == models.StatusCancel {
		v.logger.Debug("ignoring cancel for unknown fingerprint",
			zap.String("fingerprint", a.Fingerprint))
		return nil
	}

	// Repeated CANCEL only refreshes the last-seen stamps.
	if exists && existing.Status == models.StatusCancel && a.Status == models.StatusCancel {
		existing.LastSeenTick = tick
		existing.LastSeenTimestamp = now
		v.alerts[a.Fingerprint] = existing
		return nil
	}

	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	a.LastSeenTick = tick
	a.LastSeenTimestamp = now
	v.alerts[a.Fingerprint] = a

	switch {
	case !exists && a.Status == models.StatusCreate:
		metrics.AlertCreated()
		v.logger.Info("alert created",
			zap.String("fingerprint", a.Fingerprint),
			zap.String("name", a.Name),
			zap.Int("priority", a.Priority),
			zap.String("source", a.Source),
			zap.String("execution_id", a.ExecutionID))
	case exists && existing.Status == models.StatusCancel && a.Status == models.StatusCreate:
		metrics.AlertCreated()
		v.logger.Info("alert created",
			zap.String("fingerprint", a.Fingerprint),
			zap.String("name", a.Name),
			zap.Int("priority", a.Priority),
			zap.String("previous_status", string(existing.Status)),
			zap.String("execution_id", a.ExecutionID))
	case exists && existing.Status == models.StatusCreate && a.Status == models.StatusCancel:
		v.logger.Info("alert resolved",
			zap.String("fingerprint", a.Fingerprint),
			zap.String("name", a.Name),
			zap.String("execution_id", a.ExecutionID))
	default:
		v.logger.Debug("alert refreshed",
			zap.String("fingerprint", a.Fingerprint),
			zap.String("status", string(a.Status)))
	}

	return nil
}

// RemoveAlert atomically removes the fingerprint and clears its suppression
// entries. Returns whether an entry was removed.
func (v *Vector) RemoveAlert(fingerprint string) bool {
	v.mu.Lock()
	_, exists := v.alerts[fingerprint]
	if exists {
		delete(v.alerts, fingerprint)
	}
	v.mu.Unlock()

	if !exists {
		return false
	}

	v.suppression.ClearFingerprint(fingerprint)
	metrics.AlertResolved()
	v.logger.Info("alert removed from vector", zap.String("fingerprint", fingerprint))
	return true
}

// Get returns the current alert for the fingerprint, if present.
func (v *Vector) Get(fingerprint string) (models.Alert, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.alerts[fingerprint]
	return a, ok
}

// GetSnapshot returns a materialized copy ordered by priority ascending and
// then timestamp ascending. This ordering is authoritative downstream.
func (v *Vector) GetSnapshot() []models.Alert {
	v.mu.Lock()
	snapshot := make([]models.Alert, 0, len(v.alerts))
	for _, a := range v.alerts {
		snapshot = append(snapshot, a)
	}
	v.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].Priority != snapshot[j].Priority {
			return snapshot[i].Priority < snapshot[j].Priority
		}
		return snapshot[i].Timestamp.Before(snapshot[j].Timestamp)
	})
	return snapshot
}

// CleanupExpiredAlerts evicts entries unseen for longer than the TTL and
// clears their suppression state. Returns the number evicted.
func (v *Vector) CleanupExpiredAlerts() int {
	if v.ttlTicks <= 0 {
		return 0
	}

	tick := v.ticks.TickCount()

	v.mu.Lock()
	var expired []models.Alert
	for fingerprint, a := range v.alerts {
		if tick-a.LastSeenTick > v.ttlTicks {
			expired = append(expired, a)
			delete(v.alerts, fingerprint)
		}
	}
	v.mu.Unlock()

	for _, a := range expired {
		v.suppression.ClearFingerprint(a.Fingerprint)
		metrics.AlertExpired()
		v.logger.Warn("alert expired from vector",
			zap.String("fingerprint", a.Fingerprint),
			zap.String("name", a.Name),
			zap.Int64("last_seen_tick", a.LastSeenTick),
			zap.Int64("tick", tick))
	}
	return len(expired)
}

// Count returns the number of active alerts.
func (v *Vector) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.alerts)
}

// Clear empties the vector.
func (v *Vector) Clear() {
	v.mu.Lock()
	v.alerts = make(map[string]models.Alert)
	v.mu.Unlock()
}
