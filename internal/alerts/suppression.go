package alerts

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/argusops/argus/internal/models"
)

// TickSource exposes the central timer state the alert stores need.
type TickSource interface {
	TickCount() int64
	HeartbeatTimestamp() time.Time
}

// SuppressionDefaults carries the per-status default windows resolved from
// the DefaultNoc configuration.
type SuppressionDefaults struct {
	CreateWindow time.Duration
	CancelWindow time.Duration
}

type suppressionEntry struct {
	processedAtTick int64
	windowTicks     int64
}

// SuppressionCache remembers which (fingerprint, status) pairs were recently
// enqueued for the NOC. Entries are overwritten or cleared on outcome; there
// is no sweeper.
type SuppressionCache struct {
	mu          sync.Mutex
	entries     map[string]suppressionEntry
	ticks       TickSource
	defaults    SuppressionDefaults
	tickSeconds int64
	logger      *zap.Logger
}

func NewSuppressionCache(ticks TickSource, defaults SuppressionDefaults, logger *zap.Logger) *SuppressionCache {
	return &SuppressionCache{
		entries:     make(map[string]suppressionEntry),
		ticks:       ticks,
		defaults:    defaults,
		tickSeconds: 1,
		logger:      logger,
	}
}

func suppressionKey(fingerprint string, status models.AlertStatus) string {
	return fingerprint + ":" + string(status)
}

// effectiveWindow resolves the suppression window for an alert: the explicit
// SuppressWindow wins, then a parseable suppress_window annotation, then the
// per-status default. An unparseable annotation falls through to the default.
func (c *SuppressionCache) effectiveWindow(a models.Alert) time.Duration {
	if a.SuppressWindow != nil {
		return *a.SuppressWindow
	}
	if raw, ok := a.Annotations[models.AnnotationSuppressWindow]; ok {
		window, err := ParseWindow(raw)
		if err == nil {
			return window
		}
		c.logger.Debug("unparseable suppress_window annotation, using default",
			zap.String("fingerprint", a.Fingerprint),
			zap.String("suppress_window", raw),
			zap.Error(err))
	}
	if a.Status == models.StatusCancel {
		return c.defaults.CancelWindow
	}
	return c.defaults.CreateWindow
}

// WasRecentlyProcessed reports whether the alert's (fingerprint, status) was
// marked within its effective window. A zero window never suppresses.
func (c *SuppressionCache) WasRecentlyProcessed(a models.Alert) bool {
	window := c.effectiveWindow(a)
	if window <= 0 {
		return false
	}

	c.mu.Lock()
	entry, ok := c.entries[suppressionKey(a.Fingerprint, a.Status)]
	c.mu.Unlock()
	if !ok {
		return false
	}

	return c.ticks.TickCount()-entry.processedAtTick < entry.windowTicks
}

// MarkAsProcessed records the alert as processed at the current tick. Alerts
// with a zero effective window are not recorded.
func (c *SuppressionCache) MarkAsProcessed(a models.Alert) {
	window := c.effectiveWindow(a)
	if window <= 0 {
		return
	}

	windowTicks := int64(window/time.Second) / c.tickSeconds
	if windowTicks < 1 {
		windowTicks = 1
	}

	c.mu.Lock()
	c.entries[suppressionKey(a.Fingerprint, a.Status)] = suppressionEntry{
		processedAtTick: c.ticks.TickCount(),
		windowTicks:     windowTicks,
	}
	c.mu.Unlock()
}

// UnmarkAsProcessed removes the single (fingerprint, status) key so the next
// snapshot can retry the alert.
func (c *SuppressionCache) UnmarkAsProcessed(a models.Alert) {
	c.mu.Lock()
	delete(c.entries, suppressionKey(a.Fingerprint, a.Status))
	c.mu.Unlock()
}

// ClearFingerprint removes both CREATE and CANCEL keys for the fingerprint.
func (c *SuppressionCache) ClearFingerprint(fingerprint string) {
	c.mu.Lock()
	delete(c.entries, suppressionKey(fingerprint, models.StatusCreate))
	delete(c.entries, suppressionKey(fingerprint, models.StatusCancel))
	c.mu.Unlock()
}

// Count returns the number of live suppression entries.
func (c *SuppressionCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
