package watchdog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/models"
	"github.com/argusops/argus/internal/timer"
)

// Status is the derived watchdog state.
type Status string

const (
	// StatusInitializing covers the startup grace period.
	StatusInitializing Status = "Initializing"
	// StatusHealthy means a heartbeat arrived within the timeout.
	StatusHealthy Status = "Healthy"
	// StatusMissing means the Prometheus watchdog heartbeat has expired.
	StatusMissing Status = "Missing"
)

const (
	// Fingerprint is the fixed vector key for the watchdog alert.
	Fingerprint = "watchdog"
	// Priority is the fixed watchdog alert priority.
	Priority = -7
	// CallbackName identifies the watchdog callback in the liveness vector.
	CallbackName = "watchdog"
)

// TickSource exposes the timer state the watchdog needs.
type TickSource interface {
	TickCount() int64
	IsGracePeriodActive() bool
}

// Watchdog expires the Prometheus "Watchdog" heartbeat. Ingress writes only
// tier-1 state via RecordHeartbeat; the tick callback is the sole writer into
// the alerts vector for the watchdog fingerprint. The split avoids races
// between concurrent ingress and the state machine at the cost of a one-tick
// reaction delay.
type Watchdog struct {
	ticks        TickSource
	vector       *alerts.Vector
	liveness     *timer.LivenessVector
	cfg          config.WatchdogConfig
	timeoutTicks int64
	logger       *zap.Logger

	lastHeartbeatTick atomic.Int64

	mu         sync.Mutex
	wasExpired bool
}

func New(ticks TickSource, vector *alerts.Vector, liveness *timer.LivenessVector, cfg config.WatchdogConfig, logger *zap.Logger) *Watchdog {
	timeoutTicks := int64(cfg.TimeoutSeconds)
	if timeoutTicks < 1 {
		timeoutTicks = 1
	}
	w := &Watchdog{
		ticks:        ticks,
		vector:       vector,
		liveness:     liveness,
		cfg:          cfg,
		timeoutTicks: timeoutTicks,
		logger:       logger,
	}
	w.lastHeartbeatTick.Store(-1)
	return w
}

// TimeoutTicks returns the expiration interval, also used as the callback
// interval.
func (w *Watchdog) TimeoutTicks() int64 {
	return w.timeoutTicks
}

// RecordHeartbeat stores the current tick as the last heartbeat. It does not
// touch the alerts vector.
func (w *Watchdog) RecordHeartbeat() {
	tick := w.ticks.TickCount()
	w.lastHeartbeatTick.Store(tick)
	w.logger.Debug("watchdog heartbeat recorded", zap.Int64("tick", tick))
}

// LastHeartbeatTick returns the tick of the last recorded heartbeat, or -1.
func (w *Watchdog) LastHeartbeatTick() int64 {
	return w.lastHeartbeatTick.Load()
}

// CurrentStatus derives the watchdog status from tier-1 state.
func (w *Watchdog) CurrentStatus() Status {
	if w.ticks.IsGracePeriodActive() {
		return StatusInitializing
	}
	last := w.lastHeartbeatTick.Load()
	if last < 0 {
		return StatusMissing
	}
	if w.ticks.TickCount()-last < w.timeoutTicks {
		return StatusHealthy
	}
	return StatusMissing
}

// Tick is the central timer callback: it derives the status, upserts the
// watchdog alert, and logs state transitions.
func (w *Watchdog) Tick(ctx context.Context, tick int64, correlationID string) error {
	status := w.CurrentStatus()
	missing := status == StatusMissing

	w.mu.Lock()
	transitioned := missing != w.wasExpired
	w.wasExpired = missing
	w.mu.Unlock()

	if transitioned {
		if missing {
			w.logger.Warn("watchdog heartbeat missing",
				zap.Int64("last_heartbeat_tick", w.lastHeartbeatTick.Load()),
				zap.Int64("tick", tick),
				zap.String("correlation_id", correlationID))
		} else {
			w.logger.Info("watchdog heartbeat recovered",
				zap.Int64("tick", tick),
				zap.String("correlation_id", correlationID))
		}
	}

	if err := w.vector.UpdateAlert(w.buildAlert(status)); err != nil {
		return err
	}

	w.liveness.RecordExecution(CallbackName, w.timeoutTicks, tick)
	return nil
}

func (w *Watchdog) buildAlert(status Status) models.Alert {
	alertStatus := models.StatusCancel
	behavior := w.cfg.CancelNocBehavior
	summary := "Prometheus watchdog heartbeat is healthy"
	if status == StatusMissing {
		alertStatus = models.StatusCreate
		behavior = w.cfg.CreateNocBehavior
		summary = "Prometheus watchdog heartbeat is missing"
	}

	alert := models.Alert{
		Fingerprint: Fingerprint,
		Priority:    Priority,
		Name:        w.cfg.AlertName,
		Source:      "argus-watchdog",
		Status:      alertStatus,
		Summary:     summary,
		Payload:     behavior.Payload(),
		SendToNoc:   true,
		ExecutionID: uuid.NewString()[:8],
	}
	if behavior.SuppressWindow != "" {
		alert.Annotations = map[string]string{
			models.AnnotationSuppressWindow: behavior.SuppressWindow,
		}
	}
	return alert
}
