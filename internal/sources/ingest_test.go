package sources

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/models"
	"github.com/argusops/argus/internal/timer"
	"github.com/argusops/argus/internal/watchdog"
)

type fakeTicks struct {
	tick  int64
	grace bool
}

func (f *fakeTicks) TickCount() int64              { return f.tick }
func (f *fakeTicks) IsGracePeriodActive() bool     { return f.grace }
func (f *fakeTicks) HeartbeatTimestamp() time.Time { return time.Now() }

func newIngestFixture(t *testing.T) (*alerts.Vector, *watchdog.Watchdog, *Ingestor) {
	t.Helper()
	ticks := &fakeTicks{tick: 10}
	suppression := alerts.NewSuppressionCache(ticks, alerts.SuppressionDefaults{}, zap.NewNop())
	vector := alerts.NewVector(ticks, suppression, 0, zap.NewNop())
	cfg := config.WatchdogConfig{AlertName: "Watchdog", TimeoutSeconds: 120}
	wd := watchdog.New(ticks, vector, timer.NewLivenessVector(), cfg, zap.NewNop())
	ingestor := NewIngestor(vector, wd, cfg, config.DefaultNocConfig{
		CreateNocBehavior: config.NocBehavior{Severity: "major", Visible: true},
		CancelNocBehavior: config.NocBehavior{Severity: "clear"},
	}, zap.NewNop())
	return vector, wd, ingestor
}

func pushedAlert(name, status string) models.AlertmanagerAlert {
	return models.AlertmanagerAlert{
		Labels: map[string]string{
			"alertname":          name,
			models.PlatformLabel: PlatformValue,
		},
		Annotations: map[string]string{"summary": "s", "description": "d"},
		StartsAt:    time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Status:      status,
		Fingerprint: "fp-" + name,
	}
}

func TestProcessAcceptsFiringAlert(t *testing.T) {
	vector, _, ingestor := newIngestFixture(t)

	result := ingestor.Process([]models.AlertmanagerAlert{pushedAlert("DiskFull", "firing")})

	assert.Equal(t, IngestResult{Accepted: 1}, result)
	alert, ok := vector.Get("fp-DiskFull")
	require.True(t, ok)
	assert.Equal(t, models.StatusCreate, alert.Status)
	assert.Equal(t, "prometheus", alert.Source)
	assert.Equal(t, "d", alert.Description)
	assert.Equal(t, "major", alert.Payload.Severity)
	assert.Len(t, alert.ExecutionID, 8)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), alert.Timestamp)
}

func TestProcessFiltersForeignPlatform(t *testing.T) {
	vector, _, ingestor := newIngestFixture(t)

	foreign := pushedAlert("DiskFull", "firing")
	foreign.Labels[models.PlatformLabel] = "other-stack"
	unlabeled := pushedAlert("NodeDown", "firing")
	delete(unlabeled.Labels, models.PlatformLabel)

	result := ingestor.Process([]models.AlertmanagerAlert{foreign, unlabeled})

	assert.Equal(t, IngestResult{Filtered: 2}, result)
	assert.Equal(t, 0, vector.Count())
}

func TestProcessWatchdogBeatSkipsVector(t *testing.T) {
	vector, wd, ingestor := newIngestFixture(t)
	require.Equal(t, int64(-1), wd.LastHeartbeatTick())

	result := ingestor.Process([]models.AlertmanagerAlert{pushedAlert("Watchdog", "firing")})

	assert.Equal(t, IngestResult{WatchdogBeats: 1}, result)
	assert.Equal(t, int64(10), wd.LastHeartbeatTick())
	assert.Equal(t, 0, vector.Count(), "the watchdog heartbeat never enters the vector directly")
}

func TestProcessResolvedWatchdogIgnored(t *testing.T) {
	_, wd, ingestor := newIngestFixture(t)

	result := ingestor.Process([]models.AlertmanagerAlert{pushedAlert("Watchdog", "resolved")})

	assert.Equal(t, IngestResult{}, result)
	assert.Equal(t, int64(-1), wd.LastHeartbeatTick())
}

func TestProcessResolvedMapsToCancel(t *testing.T) {
	vector, _, ingestor := newIngestFixture(t)

	ingestor.Process([]models.AlertmanagerAlert{pushedAlert("DiskFull", "firing")})
	result := ingestor.Process([]models.AlertmanagerAlert{pushedAlert("DiskFull", "resolved")})

	assert.Equal(t, IngestResult{Accepted: 1}, result)
	alert, ok := vector.Get("fp-DiskFull")
	require.True(t, ok)
	assert.Equal(t, models.StatusCancel, alert.Status)
	assert.Equal(t, "clear", alert.Payload.Severity)
}

func TestProcessRejectsMalformedAlerts(t *testing.T) {
	vector, _, ingestor := newIngestFixture(t)

	unknown := pushedAlert("Weird", "pending")
	missingFingerprint := pushedAlert("NoFp", "firing")
	missingFingerprint.Fingerprint = ""

	result := ingestor.Process([]models.AlertmanagerAlert{unknown, missingFingerprint})

	assert.Equal(t, IngestResult{Rejected: 2}, result)
	assert.Equal(t, 0, vector.Count())
}

func TestPriorityFromLabels(t *testing.T) {
	tests := []struct {
		name     string
		labels   map[string]string
		expected int
	}{
		{"absent", map[string]string{}, 0},
		{"valid", map[string]string{"priority": "7"}, 7},
		{"negative clamps", map[string]string{"priority": "-3"}, 0},
		{"garbage clamps", map[string]string{"priority": "high"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, priorityFromLabels(tt.labels))
		})
	}
}
