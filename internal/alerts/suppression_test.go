package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/argusops/argus/internal/models"
)

type fakeTicks struct {
	tick int64
	now  time.Time
}

func (f *fakeTicks) TickCount() int64 { return f.tick }

func (f *fakeTicks) HeartbeatTimestamp() time.Time {
	if f.now.IsZero() {
		return time.Now()
	}
	return f.now
}

func createAlert(fingerprint string) models.Alert {
	return models.Alert{
		Fingerprint: fingerprint,
		Name:        "TestAlert",
		Status:      models.StatusCreate,
		SendToNoc:   true,
	}
}

func TestSuppressionWindowFromAnnotation(t *testing.T) {
	ticks := &fakeTicks{tick: 10}
	cache := NewSuppressionCache(ticks, SuppressionDefaults{}, zap.NewNop())

	alert := createAlert("fp-1")
	alert.Annotations = map[string]string{models.AnnotationSuppressWindow: "2m"}

	cache.MarkAsProcessed(alert)

	ticks.tick = 70
	assert.True(t, cache.WasRecentlyProcessed(alert), "60s into a 2m window must suppress")

	ticks.tick = 130
	assert.False(t, cache.WasRecentlyProcessed(alert), "120s into a 2m window must not suppress")
}

func TestSuppressionExplicitWindowWins(t *testing.T) {
	ticks := &fakeTicks{tick: 1}
	cache := NewSuppressionCache(ticks, SuppressionDefaults{CreateWindow: time.Hour}, zap.NewNop())

	window := 10 * time.Second
	alert := createAlert("fp-1")
	alert.SuppressWindow = &window
	alert.Annotations = map[string]string{models.AnnotationSuppressWindow: "1h"}

	cache.MarkAsProcessed(alert)

	ticks.tick = 5
	assert.True(t, cache.WasRecentlyProcessed(alert))
	ticks.tick = 12
	assert.False(t, cache.WasRecentlyProcessed(alert))
}

func TestSuppressionExplicitZeroDisables(t *testing.T) {
	ticks := &fakeTicks{tick: 1}
	cache := NewSuppressionCache(ticks, SuppressionDefaults{CreateWindow: time.Hour}, zap.NewNop())

	var zero time.Duration
	alert := createAlert("fp-1")
	alert.SuppressWindow = &zero

	cache.MarkAsProcessed(alert)
	assert.False(t, cache.WasRecentlyProcessed(alert))
	assert.Equal(t, 0, cache.Count())
}

func TestSuppressionUnparseableAnnotationFallsThrough(t *testing.T) {
	ticks := &fakeTicks{tick: 1}
	cache := NewSuppressionCache(ticks, SuppressionDefaults{CreateWindow: time.Minute}, zap.NewNop())

	alert := createAlert("fp-1")
	alert.Annotations = map[string]string{models.AnnotationSuppressWindow: "soon"}

	cache.MarkAsProcessed(alert)

	ticks.tick = 30
	assert.True(t, cache.WasRecentlyProcessed(alert), "must suppress using the default window")
}

func TestSuppressionPerStatusKeys(t *testing.T) {
	ticks := &fakeTicks{tick: 1}
	defaults := SuppressionDefaults{CreateWindow: time.Minute, CancelWindow: time.Minute}
	cache := NewSuppressionCache(ticks, defaults, zap.NewNop())

	create := createAlert("fp-1")
	cache.MarkAsProcessed(create)

	cancel := create
	cancel.Status = models.StatusCancel
	assert.False(t, cache.WasRecentlyProcessed(cancel), "the CANCEL key is independent of the CREATE key")

	cache.MarkAsProcessed(cancel)
	assert.True(t, cache.WasRecentlyProcessed(cancel))

	cache.UnmarkAsProcessed(cancel)
	assert.False(t, cache.WasRecentlyProcessed(cancel))
	assert.True(t, cache.WasRecentlyProcessed(create), "unmark removes only the single key")

	cache.ClearFingerprint("fp-1")
	assert.False(t, cache.WasRecentlyProcessed(create))
	assert.Equal(t, 0, cache.Count())
}

func TestSuppressionMinimumOneTick(t *testing.T) {
	ticks := &fakeTicks{tick: 1}
	window := 500 * time.Millisecond
	cache := NewSuppressionCache(ticks, SuppressionDefaults{}, zap.NewNop())

	alert := createAlert("fp-1")
	alert.SuppressWindow = &window

	cache.MarkAsProcessed(alert)
	assert.True(t, cache.WasRecentlyProcessed(alert), "sub-second windows round up to one tick")

	ticks.tick = 2
	assert.False(t, cache.WasRecentlyProcessed(alert))
}
