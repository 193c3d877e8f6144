// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"tsim.dev/tsim/internal/job"
)

// Metrics holds the Prometheus series exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	httpDuration  *prometheus.HistogramVec
}

// NewMetrics registers tsim's job-lifecycle series on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsim_jobs_submitted_total",
			Help: "Total number of reachability test jobs submitted.",
		}, []string{"mode"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsim_jobs_finished_total",
			Help: "Total number of reachability test jobs that reached a terminal state.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tsim_job_duration_seconds",
			Help:    "Wall-clock duration of completed reachability test jobs.",
			Buckets: prometheus.DefBuckets,
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tsim_http_request_duration_seconds",
			Help:    "Request handling duration of the External Interface Layer's HTTP endpoints.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	m.registry.MustRegister(m.jobsSubmitted, m.jobsFinished, m.jobDuration, m.httpDuration)
	return m
}

// registerCollectors adds additional Prometheus collectors, such as the
// Status Collector's cache hit/miss counters, to m's registry.
func (m *Metrics) registerCollectors(cs ...prometheus.Collector) {
	m.registry.MustRegister(cs...)
}

func (m *Metrics) observeSubmit(mode job.AnalysisMode) {
	m.jobsSubmitted.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) observeFinish(status job.Status, seconds float64) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
	if status == job.StatusComplete {
		m.jobDuration.Observe(seconds)
	}
}

func (m *Metrics) observeHTTP(route, method, status string, seconds float64) {
	m.httpDuration.WithLabelValues(route, method, status).Observe(seconds)
}
