package noc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/metrics"
	"github.com/argusops/argus/internal/models"
	"github.com/argusops/argus/internal/timer"
)

// SnapshotCallbackName identifies the snapshot callback in the liveness
// vector.
const SnapshotCallbackName = "noc-snapshot"

// Snapshotter reads the alerts vector on each snapshot tick and enqueues at
// most one HandleCreate and one HandleCancels decision, applying suppression
// at enqueue time. Only the highest-priority active incident is pushed per
// snapshot; cancels are drained in one batch because they close incidents
// rather than open them.
type Snapshotter struct {
	vector        *alerts.Vector
	suppression   *alerts.SuppressionCache
	queue         *Queue
	liveness      *timer.LivenessVector
	intervalTicks int64
	logger        *zap.Logger
}

func NewSnapshotter(vector *alerts.Vector, suppression *alerts.SuppressionCache, queue *Queue, liveness *timer.LivenessVector, intervalTicks int64, logger *zap.Logger) *Snapshotter {
	return &Snapshotter{
		vector:        vector,
		suppression:   suppression,
		queue:         queue,
		liveness:      liveness,
		intervalTicks: intervalTicks,
		logger:        logger,
	}
}

// Tick is the central timer callback.
func (s *Snapshotter) Tick(ctx context.Context, tick int64, correlationID string) error {
	s.vector.CleanupExpiredAlerts()

	snapshot := s.vector.GetSnapshot()
	now := time.Now()

	var firstCreate *models.Alert
	var cancels []models.Alert
	for i := range snapshot {
		switch snapshot[i].Status {
		case models.StatusCreate:
			if firstCreate == nil {
				firstCreate = &snapshot[i]
			}
		case models.StatusCancel:
			cancels = append(cancels, snapshot[i])
		}
	}

	if firstCreate != nil {
		if s.suppression.WasRecentlyProcessed(*firstCreate) {
			metrics.EnqueueSuppressed()
			s.logger.Info("create suppressed, not enqueuing",
				zap.String("fingerprint", firstCreate.Fingerprint),
				zap.String("correlation_id", correlationID))
		} else {
			s.queue.Enqueue(Decision{
				Kind:          DecisionHandleCreate,
				Alert:         *firstCreate,
				SnapshotTime:  now,
				CorrelationID: correlationID,
			})
			s.suppression.MarkAsProcessed(*firstCreate)
			s.logger.Debug("create enqueued",
				zap.String("fingerprint", firstCreate.Fingerprint),
				zap.Int("priority", firstCreate.Priority),
				zap.String("correlation_id", correlationID))
		}
	}

	var pending []models.Alert
	for _, cancel := range cancels {
		if s.suppression.WasRecentlyProcessed(cancel) {
			metrics.EnqueueSuppressed()
			continue
		}
		pending = append(pending, cancel)
		s.suppression.MarkAsProcessed(cancel)
	}
	if len(pending) > 0 {
		s.queue.Enqueue(Decision{
			Kind:          DecisionHandleCancels,
			Alerts:        pending,
			SnapshotTime:  now,
			CorrelationID: correlationID,
		})
		s.logger.Debug("cancels enqueued",
			zap.Int("count", len(pending)),
			zap.String("correlation_id", correlationID))
	}

	s.liveness.RecordExecution(SnapshotCallbackName, s.intervalTicks, tick)
	return nil
}
