package timer

import (
	"sort"
	"sync"
)

// LivenessEntry tracks the last execution of one registered callback.
type LivenessEntry struct {
	Name                  string `json:"name"`
	LastExecutionTick     int64  `json:"lastExecutionTick"`
	ExpectedIntervalTicks int64  `json:"expectedIntervalTicks"`
}

// Age returns how many ticks have passed since the last execution.
func (e LivenessEntry) Age(currentTick int64) int64 {
	return currentTick - e.LastExecutionTick
}

// Healthy reports whether the entry is within twice its expected interval.
func (e LivenessEntry) Healthy(currentTick int64) bool {
	return e.Age(currentTick) < e.ExpectedIntervalTicks*2
}

// LivenessVector records per-callback last-execution ticks. A callback that
// fails without catching never stamps, so it turns unhealthy within two of
// its intervals; this is the primary self-diagnosis mechanism.
type LivenessVector struct {
	mu      sync.RWMutex
	entries map[string]LivenessEntry
}

func NewLivenessVector() *LivenessVector {
	return &LivenessVector{entries: make(map[string]LivenessEntry)}
}

// RecordExecution overwrites the entry for the named callback.
func (v *LivenessVector) RecordExecution(name string, expectedIntervalTicks, currentTick int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[name] = LivenessEntry{
		Name:                  name,
		LastExecutionTick:     currentTick,
		ExpectedIntervalTicks: expectedIntervalTicks,
	}
}

// IsHealthy reports whether every tracked callback has executed within twice
// its expected interval.
func (v *LivenessVector) IsHealthy(currentTick int64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, entry := range v.entries {
		if !entry.Healthy(currentTick) {
			return false
		}
	}
	return true
}

// GetUnhealthyCallbacks returns the entries past their health deadline.
func (v *LivenessVector) GetUnhealthyCallbacks(currentTick int64) []LivenessEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var unhealthy []LivenessEntry
	for _, entry := range v.entries {
		if !entry.Healthy(currentTick) {
			unhealthy = append(unhealthy, entry)
		}
	}
	sort.Slice(unhealthy, func(i, j int) bool { return unhealthy[i].Name < unhealthy[j].Name })
	return unhealthy
}

// GetSnapshot returns all entries ordered by name.
func (v *LivenessVector) GetSnapshot() []LivenessEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entries := make([]LivenessEntry, 0, len(v.entries))
	for _, entry := range v.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Count returns the number of tracked callbacks.
func (v *LivenessVector) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}
