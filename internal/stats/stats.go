// Package stats counts flush pipeline outcomes. Counters are backed
// by VictoriaMetrics metric sets so they can be exported alongside the
// embedding application's metrics, while staying readable in tests.
package stats

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Collector owns one metric set per session factory. Methods are safe
// for concurrent use across sessions.
type Collector struct {
	set *metrics.Set
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{set: metrics.NewSet()}
}

func (c *Collector) counter(name, entity string) *metrics.Counter {
	return c.set.GetOrCreateCounter(fmt.Sprintf(`%s{entity=%q}`, name, entity))
}

// UpdateExecuted records one issued entity write.
func (c *Collector) UpdateExecuted(entity string) {
	c.counter("silt_entity_updates_total", entity).Inc()
}

// UpdateVetoed records a write suppressed by a pre-update listener.
func (c *Collector) UpdateVetoed(entity string) {
	c.counter("silt_entity_update_vetoes_total", entity).Inc()
}

// OptimisticFailure records a missing or stale row detected during
// flush.
func (c *Collector) OptimisticFailure(entity string) {
	c.counter("silt_optimistic_failures_total", entity).Inc()
}

// CachePut records a successful second-level cache insert.
func (c *Collector) CachePut(entity string) {
	c.counter("silt_cache_puts_total", entity).Inc()
}

// CacheEviction records a conservative cache eviction.
func (c *Collector) CacheEviction(entity string) {
	c.counter("silt_cache_evictions_total", entity).Inc()
}

// PreDeleteUpdate records an update scheduled ahead of a deletion to
// null dangling references.
func (c *Collector) PreDeleteUpdate(entity string) {
	c.counter("silt_pre_delete_updates_total", entity).Inc()
}

// Updates returns the update count for entity. Test accessor.
func (c *Collector) Updates(entity string) uint64 {
	return c.counter("silt_entity_updates_total", entity).Get()
}

// Vetoes returns the veto count for entity. Test accessor.
func (c *Collector) Vetoes(entity string) uint64 {
	return c.counter("silt_entity_update_vetoes_total", entity).Get()
}

// OptimisticFailures returns the failure count for entity. Test
// accessor.
func (c *Collector) OptimisticFailures(entity string) uint64 {
	return c.counter("silt_optimistic_failures_total", entity).Get()
}

// CachePuts returns the cache put count for entity. Test accessor.
func (c *Collector) CachePuts(entity string) uint64 {
	return c.counter("silt_cache_puts_total", entity).Get()
}

// CacheEvictions returns the eviction count for entity. Test accessor.
func (c *Collector) CacheEvictions(entity string) uint64 {
	return c.counter("silt_cache_evictions_total", entity).Get()
}

// PreDeleteUpdates returns the pre-delete update count for entity.
// Test accessor.
func (c *Collector) PreDeleteUpdates(entity string) uint64 {
	return c.counter("silt_pre_delete_updates_total", entity).Get()
}

// WritePrometheus dumps the collector's metrics in Prometheus text
// format.
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}
