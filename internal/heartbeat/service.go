package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/models"
	"github.com/argusops/argus/internal/noc"
	"github.com/argusops/argus/internal/timer"
)

// CallbackName identifies the heartbeat callback in the liveness vector.
const CallbackName = "heartbeat"

// HeartbeatFingerprint is the NOC suppression key for the heartbeat payload.
const HeartbeatFingerprint = "argus-heartbeat"

const (
	reasonLivenessFailure = "LIVENESS_FAILURE"
	reasonNocFailure      = "NOC_FAILURE"
)

// RoleSource reports whether this replica currently leads.
type RoleSource interface {
	IsLeader() bool
}

// NocSender runs the two-phase send/verify protocol for one alert.
type NocSender interface {
	SendAndVerify(ctx context.Context, alert models.Alert, correlationID string) error
}

// Service sends the liveness-aware NOC heartbeat and writes the leader-only
// file heartbeat. On a degradation edge it writes exactly one FINAL
// DIAGNOSTIC file and then stays silent until recovery, so a stale file is
// itself the alert signal.
type Service struct {
	liveness      *timer.LivenessVector
	role          RoleSource
	health        *noc.Health
	sender        NocSender
	cfg           config.HeartbeatConfig
	nocEnabled    bool
	intervalTicks int64
	logger        *zap.Logger

	mu               sync.Mutex
	livenessDegraded bool
	breakerDegraded  bool
}

func NewService(liveness *timer.LivenessVector, role RoleSource, health *noc.Health, sender NocSender, cfg config.HeartbeatConfig, nocEnabled bool, logger *zap.Logger) *Service {
	intervalTicks := int64(cfg.IntervalSeconds)
	if intervalTicks < 1 {
		intervalTicks = 30
	}
	return &Service{
		liveness:      liveness,
		role:          role,
		health:        health,
		sender:        sender,
		cfg:           cfg,
		nocEnabled:    nocEnabled,
		intervalTicks: intervalTicks,
		logger:        logger,
	}
}

// Tick is the central timer callback; both leader and follower run it.
func (s *Service) Tick(ctx context.Context, tick int64, correlationID string) error {
	// Stamp first so the heartbeat callback never flags itself while the
	// degradation logic below skips work.
	s.liveness.RecordExecution(CallbackName, s.intervalTicks, tick)

	unhealthy := s.liveness.GetUnhealthyCallbacks(tick)
	if len(unhealthy) > 0 {
		s.onLivenessUnhealthy(tick, correlationID, unhealthy)
		return nil
	}

	s.mu.Lock()
	if s.livenessDegraded {
		s.livenessDegraded = false
		s.logger.Info("liveness recovered, resuming heartbeats",
			zap.Int64("tick", tick),
			zap.String("correlation_id", correlationID))
	}
	s.mu.Unlock()

	if s.cfg.HTTP.Enabled && s.nocEnabled {
		if err := s.sender.SendAndVerify(ctx, s.heartbeatAlert(), correlationID); err != nil {
			s.logger.Warn("noc heartbeat failed",
				zap.Int64("tick", tick),
				zap.String("correlation_id", correlationID),
				zap.Error(err))
		}
	}

	// Re-read the breaker: the heartbeat outcome above may have tripped or
	// recovered it.
	if !s.health.IsHealthy() {
		s.onBreakerUnhealthy(tick, correlationID)
		return nil
	}

	s.mu.Lock()
	if s.breakerDegraded {
		s.breakerDegraded = false
		s.logger.Info("noc circuit breaker recovered, resuming file heartbeats",
			zap.Int64("tick", tick),
			zap.String("correlation_id", correlationID))
	}
	s.mu.Unlock()

	if s.role.IsLeader() && s.cfg.File.Enabled {
		if err := s.writeFile(tick, correlationID, "HEALTHY", ""); err != nil {
			s.logger.Error("heartbeat file write failed",
				zap.String("path", s.cfg.File.DestinationPath),
				zap.Error(err))
		}
	}

	return nil
}

func (s *Service) onLivenessUnhealthy(tick int64, correlationID string, unhealthy []timer.LivenessEntry) {
	s.mu.Lock()
	firstEdge := !s.livenessDegraded
	s.livenessDegraded = true
	s.mu.Unlock()

	if !firstEdge {
		return
	}

	names := make([]string, 0, len(unhealthy))
	for _, entry := range unhealthy {
		names = append(names, entry.Name)
	}
	s.logger.Warn("liveness vector unhealthy, suspending heartbeats",
		zap.Strings("callbacks", names),
		zap.Int64("tick", tick),
		zap.String("correlation_id", correlationID))

	if s.role.IsLeader() && s.cfg.File.Enabled {
		s.logger.Warn("writing final diagnostic heartbeat file",
			zap.String("reason", reasonLivenessFailure))
		if err := s.writeFile(tick, correlationID, "UNHEALTHY", reasonLivenessFailure); err != nil {
			s.logger.Error("final diagnostic write failed", zap.Error(err))
		}
	}
}

func (s *Service) onBreakerUnhealthy(tick int64, correlationID string) {
	s.mu.Lock()
	firstEdge := !s.breakerDegraded
	s.breakerDegraded = true
	s.mu.Unlock()

	if !firstEdge {
		return
	}

	s.logger.Warn("noc circuit breaker tripped, suspending file heartbeats",
		zap.Int("consecutive_failures", s.health.ConsecutiveFailures()),
		zap.Int64("tick", tick),
		zap.String("correlation_id", correlationID))

	if s.role.IsLeader() && s.cfg.File.Enabled {
		s.logger.Warn("writing final diagnostic heartbeat file",
			zap.String("reason", reasonNocFailure))
		if err := s.writeFile(tick, correlationID, "UNHEALTHY", reasonNocFailure); err != nil {
			s.logger.Error("final diagnostic write failed", zap.Error(err))
		}
	}
}

func (s *Service) writeFile(tick int64, correlationID, status, reason string) error {
	doc := Document{
		Tick:            tick,
		CorrelationID:   correlationID,
		Timestamp:       time.Now(),
		Status:          status,
		UnhealthyReason: reason,
		NocCircuitBreaker: BreakerStatus{
			IsHealthy:           s.health.IsHealthy(),
			ConsecutiveFailures: s.health.ConsecutiveFailures(),
			FailureThreshold:    s.health.FailureThreshold(),
		},
		LivenessVector: livenessStatus(s.liveness.GetSnapshot(), tick),
	}
	return writeAtomic(s.cfg.File.DestinationPath, doc)
}

func (s *Service) heartbeatAlert() models.Alert {
	return models.Alert{
		Fingerprint: HeartbeatFingerprint,
		Name:        "ArgusHeartbeat",
		Source:      "argus",
		Status:      models.StatusCreate,
		Summary:     "argus replica heartbeat",
		Payload: models.NocPayload{
			Severity: "info",
			Visible:  false,
		},
		SendToNoc: true,
	}
}
