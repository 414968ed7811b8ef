package noc

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Health is the NOC circuit breaker: a consecutive-failure counter shared by
// the alert dispatcher and the heartbeat NOC calls.
type Health struct {
	failures  atomic.Int32
	threshold int32
	logger    *zap.Logger
}

func NewHealth(failureThreshold int, logger *zap.Logger) *Health {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Health{
		threshold: int32(failureThreshold),
		logger:    logger,
	}
}

// RecordFailure increments the counter and logs the trip edge.
func (h *Health) RecordFailure() {
	failures := h.failures.Add(1)
	if failures == h.threshold {
		h.logger.Warn("noc circuit breaker tripped",
			zap.Int32("consecutive_failures", failures),
			zap.Int32("failure_threshold", h.threshold))
	}
}

// RecordSuccess resets the counter and logs the recovery edge.
func (h *Health) RecordSuccess() {
	previous := h.failures.Swap(0)
	if previous >= h.threshold {
		h.logger.Info("noc circuit breaker recovered",
			zap.Int32("previous_failures", previous))
	}
}

// IsHealthy reports whether the consecutive failures are below the threshold.
func (h *Health) IsHealthy() bool {
	return h.failures.Load() < h.threshold
}

// ConsecutiveFailures returns the current failure count.
func (h *Health) ConsecutiveFailures() int {
	return int(h.failures.Load())
}

// FailureThreshold returns the configured threshold.
func (h *Health) FailureThreshold() int {
	return int(h.threshold)
}
