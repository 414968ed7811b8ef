package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/argusops/argus/internal/timer"
)

// Document is the heartbeat file content parsed by external monitors. They
// alert when the file stops updating or reports UNHEALTHY.
type Document struct {
	Tick              int64          `json:"tick"`
	CorrelationID     string         `json:"correlationId"`
	Timestamp         time.Time      `json:"timestamp"`
	Status            string         `json:"status"`
	UnhealthyReason   string         `json:"unhealthyReason,omitempty"`
	NocCircuitBreaker BreakerStatus  `json:"nocCircuitBreaker"`
	LivenessVector    LivenessStatus `json:"livenessVector"`
}

type BreakerStatus struct {
	IsHealthy           bool `json:"isHealthy"`
	ConsecutiveFailures int  `json:"consecutiveFailures"`
	FailureThreshold    int  `json:"failureThreshold"`
}

type LivenessStatus struct {
	IsHealthy        bool             `json:"isHealthy"`
	TotalCount       int              `json:"totalCount"`
	HealthyCount     int              `json:"healthyCount"`
	UnhealthyCount   int              `json:"unhealthyCount"`
	Callbacks        []CallbackStatus `json:"callbacks"`
	UnhealthyDetails []string         `json:"unhealthyDetails"`
}

type CallbackStatus struct {
	Name                  string `json:"name"`
	LastExecutionTick     int64  `json:"lastExecutionTick"`
	ExpectedIntervalTicks int64  `json:"expectedIntervalTicks"`
	AgeTicks              int64  `json:"ageTicks"`
	IsHealthy             bool   `json:"isHealthy"`
}

func livenessStatus(entries []timer.LivenessEntry, currentTick int64) LivenessStatus {
	status := LivenessStatus{
		IsHealthy:        true,
		TotalCount:       len(entries),
		Callbacks:        make([]CallbackStatus, 0, len(entries)),
		UnhealthyDetails: []string{},
	}

	for _, entry := range entries {
		healthy := entry.Healthy(currentTick)
		status.Callbacks = append(status.Callbacks, CallbackStatus{
			Name:                  entry.Name,
			LastExecutionTick:     entry.LastExecutionTick,
			ExpectedIntervalTicks: entry.ExpectedIntervalTicks,
			AgeTicks:              entry.Age(currentTick),
			IsHealthy:             healthy,
		})
		if healthy {
			status.HealthyCount++
			continue
		}
		status.IsHealthy = false
		status.UnhealthyCount++
		status.UnhealthyDetails = append(status.UnhealthyDetails,
			fmt.Sprintf("%s: last execution at tick %d, age %d >= %d",
				entry.Name, entry.LastExecutionTick, entry.Age(currentTick), entry.ExpectedIntervalTicks*2))
	}

	return status
}

// writeAtomic writes the document to <path>.tmp and renames it over <path>.
// The directory is created on demand.
func writeAtomic(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create heartbeat directory: %w", err)
	}

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode heartbeat document: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write heartbeat file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename heartbeat file: %w", err)
	}
	return nil
}
