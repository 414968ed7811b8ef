package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/history"
	"github.com/argusops/argus/internal/leader"
	"github.com/argusops/argus/internal/models"
	"github.com/argusops/argus/internal/noc"
	"github.com/argusops/argus/internal/sources"
	"github.com/argusops/argus/internal/timer"
	"github.com/argusops/argus/internal/watchdog"
)

type Handler struct {
	ticks    *timer.Timer
	liveness *timer.LivenessVector
	vector   *alerts.Vector
	watchdog *watchdog.Watchdog
	elector  *leader.Elector
	health   *noc.Health
	ingestor *sources.Ingestor
	k8sLayer *sources.K8sLayer
	history  *history.Store
	logger   *zap.Logger
}

func NewHandler(ticks *timer.Timer, liveness *timer.LivenessVector, vector *alerts.Vector, wd *watchdog.Watchdog, elector *leader.Elector, health *noc.Health, ingestor *sources.Ingestor, k8sLayer *sources.K8sLayer, historyStore *history.Store, logger *zap.Logger) *Handler {
	return &Handler{
		ticks:    ticks,
		liveness: liveness,
		vector:   vector,
		watchdog: wd,
		elector:  elector,
		health:   health,
		ingestor: ingestor,
		k8sLayer: k8sLayer,
		history:  historyStore,
		logger:   logger,
	}
}

// ReceiveAlerts handles the Alertmanager v2 push. Alerts without the platform
// label are silently filtered; the response is always 200 empty.
func (h *Handler) ReceiveAlerts(c *gin.Context) {
	var batch []models.AlertmanagerAlert
	if err := c.ShouldBindJSON(&batch); err != nil {
		h.logger.Warn("failed to bind alerts payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alerts payload: " + err.Error()})
		return
	}

	result := h.ingestor.Process(batch)
	h.logger.Info("processed pushed alerts",
		zap.Int("received", len(batch)),
		zap.Int("accepted", result.Accepted),
		zap.Int("filtered", result.Filtered),
		zap.Int("watchdog_beats", result.WatchdogBeats),
		zap.Int("rejected", result.Rejected))

	c.Status(http.StatusOK)
}

// GetAlerts returns the priority-ordered vector snapshot.
func (h *Handler) GetAlerts(c *gin.Context) {
	snapshot := h.vector.GetSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(snapshot),
		"alerts": snapshot,
	})
}

// GetWatchdog returns the watchdog state.
func (h *Handler) GetWatchdog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":              h.watchdog.CurrentStatus(),
		"last_heartbeat_tick": h.watchdog.LastHeartbeatTick(),
		"timeout_ticks":       h.watchdog.TimeoutTicks(),
		"tick":                h.ticks.TickCount(),
	})
}

// GetHealth returns the overall replica status.
func (h *Handler) GetHealth(c *gin.Context) {
	tick := h.ticks.TickCount()
	unhealthy := h.liveness.GetUnhealthyCallbacks(tick)

	c.JSON(http.StatusOK, gin.H{
		"time":                 time.Now(),
		"tick":                 tick,
		"grace_period_active":  h.ticks.IsGracePeriodActive(),
		"is_leader":            h.elector.IsLeader(),
		"leader_identity":      h.elector.Identity(),
		"active_alerts":        h.vector.Count(),
		"liveness_healthy":     len(unhealthy) == 0,
		"liveness_unhealthy":   unhealthy,
		"noc_breaker_healthy":  h.health.IsHealthy(),
		"noc_breaker_failures": h.health.ConsecutiveFailures(),
	})
}

// GetK8sHealth returns the latest K8s layer check results.
func (h *Handler) GetK8sHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"checks": h.k8sLayer.LastResults(),
	})
}

// GetHistory returns the most recent NOC dispatch outcomes.
func (h *Handler) GetHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"dispatches": []history.StoredDispatch{}})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	dispatches, err := h.history.List(limit)
	if err != nil {
		h.logger.Error("history query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatches": dispatches})
}

// Livez is the liveness probe.
func (h *Handler) Livez(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Readyz is the readiness probe: 503 until the timer ticks, or when the
// internal status queries fail.
func (h *Handler) Readyz(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("readiness query panicked", zap.Any("panic", r))
			c.String(http.StatusServiceUnavailable, "not ready")
		}
	}()

	if h.ticks.TickCount() == 0 {
		c.String(http.StatusServiceUnavailable, "not ready: timer has not started")
		return
	}

	_ = h.vector.GetSnapshot()
	_ = h.liveness.GetSnapshot()

	c.String(http.StatusOK, "ready")
}
