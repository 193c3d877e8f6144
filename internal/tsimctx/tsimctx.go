// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tsimctx bundles the handles every tsim entry point needs —
// configuration, logging, the shared registry, and the lock manager — built
// once per process and threaded through explicitly rather than via package
// globals.
package tsimctx

import (
	"tsim.dev/tsim/internal/config"
	"tsim.dev/tsim/internal/execpool"
	"tsim.dev/tsim/internal/logging"
	"tsim.dev/tsim/internal/lockmgr"
	"tsim.dev/tsim/internal/progress"
	"tsim.dev/tsim/internal/registry"
)

// Context bundles the shared handles for a tsim process.
type Context struct {
	Config   *config.Config
	Log      *logging.Logger
	Locks    *lockmgr.Manager
	Registry *registry.Registry
	Progress *progress.Tracker
	Pool     *execpool.Pool
}

// New constructs a Context from cfg, wiring the lock manager, registry, and
// progress tracker to the directories cfg names (spec §6).
func New(cfg *config.Config, log *logging.Logger) (*Context, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}

	locks, err := lockmgr.New(cfg.LockDir)
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Cache.BasePath, locks)
	tracker := progress.New(cfg.RunDir)
	pool := execpool.New(cfg.Parallelization.MaxWorkers, cfg.NamespaceTimeout())

	return &Context{
		Config:   cfg,
		Log:      log,
		Locks:    locks,
		Registry: reg,
		Progress: tracker,
		Pool:     pool,
	}, nil
}
