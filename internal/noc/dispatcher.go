package noc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/metrics"
	"github.com/argusops/argus/internal/models"
)

// RoleSource reports whether this replica currently leads.
type RoleSource interface {
	IsLeader() bool
}

// DispatchRecord is one dispatched outcome for the history store.
type DispatchRecord struct {
	Time          time.Time
	Kind          string
	Fingerprint   string
	AlertName     string
	Status        models.AlertStatus
	CorrelationID string
	ExecutionID   string
	Outcome       string
	Detail        string
}

// Recorder persists dispatch outcomes. Implementations must be safe for use
// from the single dispatcher goroutine.
type Recorder interface {
	Record(rec DispatchRecord) error
}

// Dispatcher drains the decision queue one decision at a time and runs the
// two-phase send/verify protocol against the NOC.
type Dispatcher struct {
	queue       *Queue
	vector      *alerts.Vector
	suppression *alerts.SuppressionCache
	health      *Health
	client      *Client
	role        RoleSource
	cfg         config.NocConfig
	recorder    Recorder
	logger      *zap.Logger

	// sent caches the last payload sent per fingerprint. The follower reads
	// it during phase 2; a missing entry is synthesized from the alert.
	sent sync.Map

	idleSleep  time.Duration
	errorSleep time.Duration
}

func NewDispatcher(queue *Queue, vector *alerts.Vector, suppression *alerts.SuppressionCache, health *Health, client *Client, role RoleSource, cfg config.NocConfig, recorder Recorder, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:       queue,
		vector:      vector,
		suppression: suppression,
		health:      health,
		client:      client,
		role:        role,
		cfg:         cfg,
		recorder:    recorder,
		logger:      logger,
		idleSleep:   100 * time.Millisecond,
		errorSleep:  time.Second,
	}
}

// Run drains the queue until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("noc dispatcher started")
	for {
		if ctx.Err() != nil {
			d.logger.Info("noc dispatcher stopped")
			return
		}

		decision, ok := d.queue.Dequeue()
		if !ok {
			if !sleepCtx(ctx, d.idleSleep) {
				d.logger.Info("noc dispatcher stopped")
				return
			}
			continue
		}

		if err := d.process(ctx, decision); err != nil {
			sleepCtx(ctx, d.errorSleep)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, decision Decision) error {
	switch decision.Kind {
	case DecisionHandleCreate:
		return d.handleCreate(ctx, decision)
	case DecisionHandleCancels:
		return d.handleCancels(ctx, decision)
	default:
		d.logger.Warn("unknown noc decision kind, discarding",
			zap.String("kind", string(decision.Kind)),
			zap.String("correlation_id", decision.CorrelationID))
		return nil
	}
}

func (d *Dispatcher) handleCreate(ctx context.Context, decision Decision) error {
	fingerprint := decision.Alert.Fingerprint

	// Re-read before side effect: the vector may have moved on since the
	// snapshot was taken.
	current, ok := d.vector.Get(fingerprint)
	if !ok || current.Status != models.StatusCreate {
		d.logger.Info("create decision stale, dropping",
			zap.String("fingerprint", fingerprint),
			zap.String("correlation_id", decision.CorrelationID))
		d.record(decision, current, "dropped", "alert state changed since snapshot")
		return nil
	}

	if !current.SendToNoc || !d.cfg.Enabled {
		d.logger.Debug("noc send disabled for create",
			zap.String("fingerprint", fingerprint),
			zap.Bool("send_to_noc", current.SendToNoc),
			zap.Bool("noc_enabled", d.cfg.Enabled))
		d.record(decision, current, "skipped", "noc disabled")
		return nil
	}

	if err := d.SendAndVerify(ctx, current, decision.CorrelationID); err != nil {
		d.suppression.UnmarkAsProcessed(current)
		d.record(decision, current, "failure", err.Error())
		return err
	}

	// A CREATE stays in the vector until a future CANCEL round-trip.
	d.record(decision, current, "success", "")
	return nil
}

func (d *Dispatcher) handleCancels(ctx context.Context, decision Decision) error {
	var lastErr error
	for _, cancel := range decision.Alerts {
		fingerprint := cancel.Fingerprint

		current, ok := d.vector.Get(fingerprint)
		if !ok || current.Status != models.StatusCancel {
			d.logger.Info("cancel decision stale, dropping",
				zap.String("fingerprint", fingerprint),
				zap.String("correlation_id", decision.CorrelationID))
			d.record(decision, current, "dropped", "alert state changed since snapshot")
			continue
		}

		// Without the HTTP path a cancel still removes the alert.
		if !current.SendToNoc || !d.cfg.Enabled {
			d.vector.RemoveAlert(fingerprint)
			d.sent.Delete(fingerprint)
			d.record(decision, current, "skipped", "noc disabled, removed locally")
			continue
		}

		if err := d.SendAndVerify(ctx, current, decision.CorrelationID); err != nil {
			d.suppression.UnmarkAsProcessed(current)
			d.record(decision, current, "failure", err.Error())
			lastErr = err
			continue
		}

		d.vector.RemoveAlert(fingerprint)
		d.sent.Delete(fingerprint)
		d.record(decision, current, "success", "")
	}
	return lastErr
}

// SendAndVerify runs the two-phase protocol for one alert: phase 1 (send) is
// leader-only, phase 2 (verify) runs on every replica. The outcome drives the
// circuit breaker.
func (d *Dispatcher) SendAndVerify(ctx context.Context, alert models.Alert, correlationID string) error {
	fingerprint := alert.Fingerprint

	if d.role.IsLeader() {
		payload := d.buildPayload(alert)
		if err := d.client.Send(ctx, payload); err != nil {
			// The receiver may have accepted the write despite an error
			// body, so phase 2 still runs.
			metrics.NocSend(metrics.OutcomeFailure)
			d.logger.Warn("noc send failed",
				zap.String("fingerprint", fingerprint),
				zap.String("execution_id", alert.ExecutionID),
				zap.String("correlation_id", correlationID),
				zap.Error(err))
		} else {
			metrics.NocSend(metrics.OutcomeSuccess)
			d.sent.Store(fingerprint, payload)
		}
	}

	sentPayload := d.buildPayload(alert)
	if cached, ok := d.sent.Load(fingerprint); ok {
		sentPayload = cached.(models.NocPayload)
	}

	received, err := d.client.Verify(ctx, VerifyFilter{NocPayload: sentPayload})
	if err != nil {
		metrics.NocVerify(metrics.OutcomeFailure)
		d.health.RecordFailure()
		d.logger.Warn("noc verify failed",
			zap.String("fingerprint", fingerprint),
			zap.String("correlation_id", correlationID),
			zap.Error(err))
		return err
	}

	if !PayloadsMatch(sentPayload, received) {
		metrics.NocVerify(metrics.OutcomeFailure)
		d.health.RecordFailure()
		d.logger.Warn("noc verify comparison mismatch",
			zap.String("fingerprint", fingerprint),
			zap.String("sent_suppression_key", sentPayload.SuppressionKey),
			zap.String("received_suppression_key", received.SuppressionKey),
			zap.Int("sent_level", sentPayload.Level),
			zap.Int("received_level", received.Level),
			zap.String("correlation_id", correlationID))
		return fmt.Errorf("noc verify comparison mismatch for %s", fingerprint)
	}

	metrics.NocVerify(metrics.OutcomeSuccess)
	d.health.RecordSuccess()
	return nil
}

// Wire levels adopted from the runtime overrides: CREATE opens an incident
// at level 3, CANCEL closes it at level 0.
const (
	levelCreate = 3
	levelCancel = 0
)

// buildPayload applies the runtime overrides to the alert's payload template
// and fills empty identity fields from configuration.
func (d *Dispatcher) buildPayload(alert models.Alert) models.NocPayload {
	payload := alert.Payload

	if alert.Status == models.StatusCreate {
		payload.Level = levelCreate
	} else {
		payload.Level = levelCancel
	}
	payload.Message = alert.Message()
	payload.Source = alert.Source
	payload.SuppressionKey = alert.Fingerprint

	if payload.Custom1 == "" {
		payload.Custom1 = d.cfg.HTTPClient.TeamName
	}
	if payload.Custom2 == "" {
		payload.Custom2 = d.cfg.HTTPClient.SystemName
	}
	if payload.HostName == "" {
		payload.HostName = d.cfg.HTTPClient.HostName
	}

	return payload
}

func (d *Dispatcher) record(decision Decision, alert models.Alert, outcome, detail string) {
	if d.recorder == nil {
		return
	}
	rec := DispatchRecord{
		Time:          time.Now(),
		Kind:          string(decision.Kind),
		Fingerprint:   alert.Fingerprint,
		AlertName:     alert.Name,
		Status:        alert.Status,
		CorrelationID: decision.CorrelationID,
		ExecutionID:   alert.ExecutionID,
		Outcome:       outcome,
		Detail:        detail,
	}
	if rec.Fingerprint == "" {
		rec.Fingerprint = decision.Alert.Fingerprint
		rec.AlertName = decision.Alert.Name
		rec.Status = decision.Alert.Status
	}
	if err := d.recorder.Record(rec); err != nil {
		d.logger.Warn("failed to record dispatch history",
			zap.String("fingerprint", rec.Fingerprint),
			zap.Error(err))
	}
}

// sleepCtx sleeps for d or until the context is canceled; it returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
