// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api is the External Interface Layer (spec §4.I): an HTTP facade
// over the Scheduler, Progress Tracker, Registry, and Status Collector, plus
// a Prometheus scrape endpoint for job and queue metrics.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/logging"
	"tsim.dev/tsim/internal/progress"
	"tsim.dev/tsim/internal/realize"
	"tsim.dev/tsim/internal/registry"
	"tsim.dev/tsim/internal/scheduler"
	"tsim.dev/tsim/internal/status"
	"tsim.dev/tsim/internal/topology"
)

// ServerConfig holds HTTP server hardening settings.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// DefaultServerConfig returns conservative server timeouts, sized the same
// as tsim's namespace operations rather than a generic web-service default.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// TopologyProvider returns the currently loaded topology. It is a func
// rather than a stored pointer because the fact set can be reloaded without
// restarting the server.
type TopologyProvider func() *topology.Topology

// Server exposes the reachability-testing workflow over HTTP.
type Server struct {
	cfg       ServerConfig
	log       *logging.Logger
	sched     *scheduler.Scheduler
	tracker   *progress.Tracker
	reg       *registry.Registry
	collector *status.Collector
	engine    *realize.Engine
	topo      TopologyProvider
	metrics   *Metrics
	router    *mux.Router
}

// ServerOptions holds Server's dependencies.
type ServerOptions struct {
	Config    ServerConfig
	Logger    *logging.Logger
	Scheduler *scheduler.Scheduler
	Tracker   *progress.Tracker
	Registry  *registry.Registry
	Collector *status.Collector
	Engine    *realize.Engine
	Topology  TopologyProvider
}

// NewServer builds a Server and registers its routes.
func NewServer(opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	cfg := opts.Config
	if cfg == (ServerConfig{}) {
		cfg = DefaultServerConfig()
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		sched:     opts.Scheduler,
		tracker:   opts.Tracker,
		reg:       opts.Registry,
		collector: opts.Collector,
		engine:    opts.Engine,
		topo:      opts.Topology,
		metrics:   NewMetrics(),
		router:    mux.NewRouter(),
	}
	if opts.Collector != nil {
		s.metrics.registerCollectors(opts.Collector.Metrics().Collectors()...)
	}
	s.registerRoutes()
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer wraps Handler in an *http.Server configured with cfg's
// hardening timeouts, ready to ListenAndServe.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}
}

// FinishHook returns a scheduler.FinishHook that records job outcomes on
// the server's Prometheus metrics. Wire it with Scheduler.OnFinish.
func (s *Server) FinishHook() scheduler.FinishHook {
	return func(rec job.Record, status job.Status) {
		var seconds float64
		if rec.StartedAt != nil {
			seconds = time.Since(*rec.StartedAt).Seconds()
		}
		s.metrics.observeFinish(status, seconds)
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(s.timingMiddleware)
	r.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	r.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{runID}", s.handleQueryProgress).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{runID}", s.handleCancelJob).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{runID}/stream", s.handleStreamProgress).Methods(http.MethodGet)
	r.HandleFunc("/hosts", s.handleListHosts).Methods(http.MethodGet)
	r.HandleFunc("/hosts", s.handleAddHost).Methods(http.MethodPost)
	r.HandleFunc("/hosts/{name}", s.handleRemoveHost).Methods(http.MethodDelete)
	r.HandleFunc("/status", s.handleGetStatus).Methods(http.MethodGet)
	r.HandleFunc("/setup", s.handleSetup).Methods(http.MethodPost)
	r.HandleFunc("/teardown", s.handleTeardown).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
