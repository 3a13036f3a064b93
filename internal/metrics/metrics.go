// Package metrics records cache and calculation telemetry.
//
// Recorder is implemented by a no-op collector for tests and by a
// Prometheus-backed collector for the running service.
package metrics

import "time"

// Recorder receives cache and calculation signals.
type Recorder interface {
	CacheHit(kind string)
	CacheMiss(kind string)
	CacheInvalidated(kind string)
	CacheEntries(n int)
	ObserveCalculation(kind string, duration time.Duration, err error)
}

// Nop discards all signals.
type Nop struct{}

var _ Recorder = Nop{}

// NewNop returns a Recorder that discards everything.
func NewNop() Nop {
	return Nop{}
}

// CacheHit discards the hit.
func (Nop) CacheHit(string) {}

// CacheMiss discards the miss.
func (Nop) CacheMiss(string) {}

// CacheInvalidated discards the invalidation.
func (Nop) CacheInvalidated(string) {}

// CacheEntries discards the entry count.
func (Nop) CacheEntries(int) {}

// ObserveCalculation discards the observation.
func (Nop) ObserveCalculation(string, time.Duration, error) {}
