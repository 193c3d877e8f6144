// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package status

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Status Collector's Prometheus metrics (spec §5 "cache
// hit/miss gauges"). Registration is left to the caller, the same way the
// teacher's feature-specific Metrics structs are assembled independently of
// their owning registry.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewMetrics builds a Metrics struct with its counters created but not yet
// registered.
func NewMetrics() *Metrics {
	return &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsim_status_cache_hits_total",
			Help: "Status Collector cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsim_status_cache_misses_total",
			Help: "Status Collector cache misses.",
		}),
	}
}

// Collectors returns the Prometheus collectors that make up m, for
// registration against a *prometheus.Registry.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.CacheHits, m.CacheMisses}
}
