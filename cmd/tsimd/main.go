// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command tsimd is the tsim daemon: it runs the FIFO scheduler's leader loop
// and the HTTP external-interface layer in one process (spec §4.F, §4.I).
// Facts are loaded once at startup and reloaded on SIGHUP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"tsim.dev/tsim/internal/api"
	"tsim.dev/tsim/internal/config"
	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/factload"
	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/logging"
	"tsim.dev/tsim/internal/progress"
	"tsim.dev/tsim/internal/reachability"
	"tsim.dev/tsim/internal/realize"
	"tsim.dev/tsim/internal/scheduler"
	"tsim.dev/tsim/internal/status"
	"tsim.dev/tsim/internal/topology"
	"tsim.dev/tsim/internal/tsimctx"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "path to tsim configuration file")
	addr := flag.String("addr", ":8080", "HTTP listen address for the external interface layer")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tsimd: loading configuration: %v\n", err)
		return 1
	}

	log := logging.New(logging.DefaultConfig())

	tctx, err := tsimctx.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize")
		return 1
	}

	topoHolder := &atomicTopology{}
	if err := reloadTopology(topoHolder, cfg, log); err != nil {
		log.WithError(err).Error("initial fact load failed")
		return exitCodeFor(err)
	}

	backend := realize.NewLinuxBackend(tctx.Pool)
	engine := realize.New(backend, log)
	translate := func(router, iface string) string {
		name, ok := realize.SystemInterfaceName(topoHolder.get(), router, iface)
		if !ok {
			return iface
		}
		return name
	}
	collector := status.New(backend, cfg, translate)

	queue, err := scheduler.NewQueue(cfg.DataDir + "/queue")
	if err != nil {
		log.WithError(err).Error("failed to open job queue")
		return 1
	}

	runJob := func(ctx context.Context, rec job.Record, phase func(job.Phase, string)) ([]job.ServiceVerdict, error) {
		tester := reachability.New(topoHolder.get(), phase, tctx.Registry, engine, rec.RunID)
		return tester.Run(ctx, rec.Params)
	}
	sched := scheduler.New(queue, tctx.Registry, tctx.Locks, tctx.Progress, runJob, cfg, log)

	srv := api.NewServer(api.ServerOptions{
		Config:    api.DefaultServerConfig(),
		Logger:    log,
		Scheduler: sched,
		Tracker:   tctx.Progress,
		Registry:  tctx.Registry,
		Collector: collector,
		Engine:    engine,
		Topology:  func() *topology.Topology { return topoHolder.get() },
	})
	sched.OnFinish(srv.FinishHook())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sched.RunLeader(ctx); err != nil {
			log.WithError(err).Error("scheduler leader loop exited")
		}
	}()

	go reconcileLoop(ctx, tctx.Progress, queue, log)
	go reloadOnSIGHUP(ctx, topoHolder, cfg, log)

	httpSrv := srv.HTTPServer(*addr)
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.ListenAndServe() }()

	log.Info("tsimd started", "addr", *addr)
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		log.WithError(err).Error("http server exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}
	return 0
}

type atomicTopology struct {
	v atomic.Pointer[topology.Topology]
}

func (a *atomicTopology) get() *topology.Topology { return a.v.Load() }

func reloadTopology(holder *atomicTopology, cfg *config.Config, log *logging.Logger) error {
	topo, warnings, err := factload.LoadTopology(cfg.FactsDir)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Warn("fact load warning", "detail", w.String())
	}
	holder.v.Store(topo)
	log.Info("facts loaded", "routers", len(topo.Routers), "links", len(topo.Links))
	return nil
}

func reloadOnSIGHUP(ctx context.Context, holder *atomicTopology, cfg *config.Config, log *logging.Logger) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			if err := reloadTopology(holder, cfg, log); err != nil {
				log.WithError(err).Error("fact reload failed, keeping previous topology")
			}
		}
	}
}

// reconcileLoop sweeps orphaned run state (spec §4.F's 1.5s grace period)
// so a crashed worker never leaves a run stuck in a non-terminal status.
func reconcileLoop(ctx context.Context, tracker *progress.Tracker, queue *scheduler.Queue, log *logging.Logger) {
	reconciler := progress.NewReconciler(tracker, 0)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queued, err := queue.List()
			if err != nil {
				continue
			}
			inQueue := make(map[string]bool, len(queued))
			for _, id := range queued {
				inQueue[id] = true
			}
			if err := reconciler.Sweep(func(runID string) bool { return inQueue[runID] }); err != nil {
				log.WithError(err).Warn("reconciler sweep failed")
			}
		}
	}
}

func exitCodeFor(err error) int {
	switch errs.GetKind(err) {
	case errs.KindValidation, errs.KindFactInvalid:
		return 4
	case errs.KindLockTimeout:
		return 3
	default:
		return 1
	}
}
