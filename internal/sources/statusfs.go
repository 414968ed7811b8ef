package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/models"
	"github.com/argusops/argus/internal/timer"
)

// StatusFileSystemCallbackName identifies the filesystem probe in the
// liveness vector.
const StatusFileSystemCallbackName = "status-filesystem"

// FingerprintStatusFileSystem is the vector key for the filesystem alert.
const FingerprintStatusFileSystem = "status-filesystem"

const priorityStatusFileSystem = -6

// StatusFileSystem verifies that the heartbeat destination directory exists
// and is writable by creating and deleting a unique probe file.
type StatusFileSystem struct {
	dir           string
	vector        *alerts.Vector
	liveness      *timer.LivenessVector
	defaults      config.DefaultNocConfig
	intervalTicks int64
	logger        *zap.Logger
}

func NewStatusFileSystem(destinationPath string, vector *alerts.Vector, liveness *timer.LivenessVector, cfg config.StatusFileSystemConfig, defaults config.DefaultNocConfig, logger *zap.Logger) *StatusFileSystem {
	return &StatusFileSystem{
		dir:           filepath.Dir(destinationPath),
		vector:        vector,
		liveness:      liveness,
		defaults:      defaults,
		intervalTicks: int64(cfg.PollingIntervalSeconds),
		logger:        logger,
	}
}

// Tick probes the directory and emits a CREATE or CANCEL accordingly.
func (s *StatusFileSystem) Tick(ctx context.Context, tick int64, correlationID string) error {
	probeErr := s.probe()

	status := models.StatusCancel
	summary := "heartbeat directory is writable"
	if probeErr != nil {
		status = models.StatusCreate
		summary = fmt.Sprintf("heartbeat directory not writable: %v", probeErr)
		s.logger.Error("filesystem probe failed",
			zap.String("dir", s.dir),
			zap.String("correlation_id", correlationID),
			zap.Error(probeErr))
	}

	behavior := s.defaults.Behavior(status)
	alert := models.Alert{
		Fingerprint: FingerprintStatusFileSystem,
		Priority:    priorityStatusFileSystem,
		Name:        "status-filesystem",
		Source:      "argus-status-filesystem",
		Status:      status,
		Summary:     summary,
		Payload:     behavior.Payload(),
		SendToNoc:   true,
		ExecutionID: uuid.NewString()[:8],
	}
	if err := s.vector.UpdateAlert(alert); err != nil {
		return err
	}

	s.liveness.RecordExecution(StatusFileSystemCallbackName, s.intervalTicks, tick)
	return nil
}

func (s *StatusFileSystem) probe() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	probePath := filepath.Join(s.dir, ".argus-probe-"+uuid.NewString())
	if err := os.WriteFile(probePath, []byte("probe"), 0o644); err != nil {
		return fmt.Errorf("write probe file: %w", err)
	}
	if err := os.Remove(probePath); err != nil {
		return fmt.Errorf("remove probe file: %w", err)
	}
	return nil
}
