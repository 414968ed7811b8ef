package sources

import (
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/metrics"
	"github.com/argusops/argus/internal/models"
	"github.com/argusops/argus/internal/watchdog"
)

// PlatformValue is the label value that marks alerts addressed to this
// instance.
const PlatformValue = "argus"

// IngestResult summarizes one processed push batch.
type IngestResult struct {
	Accepted      int `json:"accepted"`
	Filtered      int `json:"filtered"`
	WatchdogBeats int `json:"watchdog_beats"`
	Rejected      int `json:"rejected"`
}

// Ingestor converts pushed Alertmanager alerts into vector alerts. It is
// event-driven, not tick-driven: execution IDs are generated per alert and
// never share the tick correlation namespace.
type Ingestor struct {
	vector   *alerts.Vector
	watchdog *watchdog.Watchdog
	cfg      config.WatchdogConfig
	defaults config.DefaultNocConfig
	logger   *zap.Logger
}

func NewIngestor(vector *alerts.Vector, wd *watchdog.Watchdog, cfg config.WatchdogConfig, defaults config.DefaultNocConfig, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		vector:   vector,
		watchdog: wd,
		cfg:      cfg,
		defaults: defaults,
		logger:   logger,
	}
}

// Process handles one pushed batch. Alerts without the platform label are
// counted and dropped; watchdog-named firing alerts feed only the watchdog's
// tier-1 state.
func (i *Ingestor) Process(batch []models.AlertmanagerAlert) IngestResult {
	var result IngestResult

	for idx := range batch {
		dto := &batch[idx]

		if dto.GetPlatform() != PlatformValue {
			metrics.IngressFiltered()
			result.Filtered++
			continue
		}

		if dto.GetAlertName() == i.cfg.AlertName {
			if dto.IsFiring() {
				i.watchdog.RecordHeartbeat()
				result.WatchdogBeats++
			}
			continue
		}

		alert, ok := i.convert(dto)
		if !ok {
			result.Rejected++
			continue
		}
		if err := i.vector.UpdateAlert(alert); err != nil {
			result.Rejected++
			continue
		}
		result.Accepted++
	}

	return result
}

func (i *Ingestor) convert(dto *models.AlertmanagerAlert) (models.Alert, bool) {
	var status models.AlertStatus
	switch {
	case dto.IsFiring():
		status = models.StatusCreate
	case dto.IsResolved():
		status = models.StatusCancel
	default:
		i.logger.Warn("dropping alert with unknown status",
			zap.String("fingerprint", dto.Fingerprint),
			zap.String("status", dto.Status))
		return models.Alert{}, false
	}

	if dto.Fingerprint == "" {
		i.logger.Warn("dropping alert without fingerprint",
			zap.String("name", dto.GetAlertName()))
		return models.Alert{}, false
	}

	behavior := i.defaults.Behavior(status)
	alert := models.Alert{
		Fingerprint: dto.Fingerprint,
		Priority:    priorityFromLabels(dto.Labels),
		Name:        dto.GetAlertName(),
		Source:      "prometheus",
		Status:      status,
		Summary:     dto.Annotations["summary"],
		Description: dto.Annotations["description"],
		Payload:     behavior.Payload(),
		SendToNoc:   true,
		Timestamp:   dto.StartsAt,
		ExecutionID: uuid.NewString()[:8],
		Annotations: dto.Annotations,
	}
	return alert, true
}

// priorityFromLabels reads a numeric priority label. Prometheus alerts are
// never promoted above the infrastructure range, so negatives clamp to 0.
func priorityFromLabels(labels map[string]string) int {
	raw, ok := labels["priority"]
	if !ok {
		return 0
	}
	priority, err := strconv.Atoi(raw)
	if err != nil || priority < 0 {
		return 0
	}
	return priority
}
