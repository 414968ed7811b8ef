package timer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/argusops/argus/internal/metrics"
)

// CallbackFunc runs one invocation of a registered callback. Implementations
// are responsible for stamping the liveness vector on success.
type CallbackFunc func(ctx context.Context, tick int64, correlationID string) error

// Callback is a registration request for the central timer.
type Callback struct {
	Name          string
	IntervalTicks int64
	GraceAware    bool
	Fn            CallbackFunc
}

type registered struct {
	Callback
	running atomic.Bool
}

// Timer is the single 1-second tick scheduler. All registered callbacks of a
// tick share one correlation ID; successive invocations of the same callback
// are serialized by a running-lock.
type Timer struct {
	logger           *zap.Logger
	interval         time.Duration
	gracePeriodTicks int64

	tick        atomic.Int64
	heartbeatTS atomic.Value // time.Time
	graceOver   atomic.Bool

	mu        sync.Mutex
	callbacks []*registered
	names     map[string]struct{}
}

// New creates the central timer. The grace period is the snapshot interval
// scaled by the startup multiplier, floored at 1.0.
func New(snapshotIntervalSeconds int, graceMultiplier float64, logger *zap.Logger) *Timer {
	if graceMultiplier < 1.0 {
		graceMultiplier = 1.0
	}
	t := &Timer{
		logger:           logger,
		interval:         time.Second,
		gracePeriodTicks: int64(float64(snapshotIntervalSeconds) * graceMultiplier),
		names:            make(map[string]struct{}),
	}
	t.heartbeatTS.Store(time.Time{})
	return t
}

// Register adds a callback. Names are unique; a duplicate registration is
// rejected with a warning.
func (t *Timer) Register(cb Callback) error {
	if cb.IntervalTicks < 1 {
		return fmt.Errorf("callback %q: interval ticks must be at least 1", cb.Name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.names[cb.Name]; exists {
		t.logger.Warn("callback already registered, rejecting",
			zap.String("callback", cb.Name))
		return fmt.Errorf("callback %q already registered", cb.Name)
	}

	t.names[cb.Name] = struct{}{}
	t.callbacks = append(t.callbacks, &registered{Callback: cb})

	t.logger.Info("callback registered",
		zap.String("callback", cb.Name),
		zap.Int64("interval_ticks", cb.IntervalTicks),
		zap.Bool("grace_aware", cb.GraceAware))
	return nil
}

// TickCount returns the current tick.
func (t *Timer) TickCount() int64 {
	return t.tick.Load()
}

// HeartbeatTimestamp returns the wall clock at the last tick.
func (t *Timer) HeartbeatTimestamp() time.Time {
	return t.heartbeatTS.Load().(time.Time)
}

// TickIntervalSeconds returns the tick period in seconds.
func (t *Timer) TickIntervalSeconds() int64 {
	return int64(t.interval / time.Second)
}

// GracePeriodTicks returns the startup grace period length in ticks.
func (t *Timer) GracePeriodTicks() int64 {
	return t.gracePeriodTicks
}

// IsGracePeriodActive reports whether the startup grace period is still
// running. Once it elapses it stays false.
func (t *Timer) IsGracePeriodActive() bool {
	return !t.graceOver.Load()
}

// Run drives the tick loop until the context is canceled.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("central timer started",
		zap.Int64("grace_period_ticks", t.gracePeriodTicks))

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("central timer stopped", zap.Int64("tick", t.TickCount()))
			return
		case <-ticker.C:
			t.advance(ctx)
		}
	}
}

// advance performs one tick: bumps the counter, resolves the grace period,
// and dispatches due callbacks concurrently in registration order.
func (t *Timer) advance(ctx context.Context) {
	tick := t.tick.Add(1)
	t.heartbeatTS.Store(time.Now())
	metrics.TickObserved()

	if !t.graceOver.Load() && tick >= t.gracePeriodTicks {
		t.graceOver.Store(true)
		t.logger.Info("startup grace period over", zap.Int64("tick", tick))
	}
	graceActive := t.IsGracePeriodActive()

	correlationID := newCorrelationID(tick)

	t.mu.Lock()
	callbacks := make([]*registered, len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	for _, cb := range callbacks {
		if tick%cb.IntervalTicks != 0 {
			continue
		}
		if cb.GraceAware && graceActive {
			continue
		}
		if !cb.running.CompareAndSwap(false, true) {
			metrics.CallbackSkipped(cb.Name)
			t.logger.Warn("callback still running, skipping invocation",
				zap.String("callback", cb.Name),
				zap.Int64("tick", tick),
				zap.String("correlation_id", correlationID))
			continue
		}

		go t.invoke(ctx, cb, tick, correlationID)
	}
}

func (t *Timer) invoke(ctx context.Context, cb *registered, tick int64, correlationID string) {
	defer cb.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			metrics.CallbackError(cb.Name)
			t.logger.Error("callback panicked",
				zap.String("callback", cb.Name),
				zap.Int64("tick", tick),
				zap.String("correlation_id", correlationID),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	if err := cb.Fn(ctx, tick, correlationID); err != nil {
		metrics.CallbackError(cb.Name)
		t.logger.Error("callback failed",
			zap.String("callback", cb.Name),
			zap.Int64("tick", tick),
			zap.String("correlation_id", correlationID),
			zap.Error(err))
	}
}

// newCorrelationID builds the per-tick correlation ID shared by all callbacks
// launched in the same tick.
func newCorrelationID(tick int64) string {
	return fmt.Sprintf("tick-%05d-%s", tick, uuid.NewString()[:8])
}
