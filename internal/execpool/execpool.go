// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package execpool runs the external commands the Realization Engine and
// Status Collector depend on (ip, iptables-save, iptables-restore, ipset)
// through a bounded worker pool, per spec §9's "subprocess-per-step
// execution" design note. Structured in-namespace operations (addresses,
// routes, rules) go through netlink/netns instead (see internal/nsops); this
// package exists for the tools that only speak through their own stdout/
// stdin wire formats.
package execpool

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"tsim.dev/tsim/internal/errs"
)

// Task is one subprocess invocation.
type Task struct {
	Label string // for error messages and logging, e.g. "r1: iptables-save"
	Name  string
	Args  []string
	Stdin []byte
}

// Result holds a completed Task's output.
type Result struct {
	Task     Task
	Stdout   []byte
	Stderr   []byte
	Err      error
}

// Pool bounds the number of concurrently running subprocesses and applies a
// default per-task timeout, mirroring the parallelization limits spec §6
// documents for namespace queries.
type Pool struct {
	sem     chan struct{}
	timeout time.Duration
}

// New creates a Pool allowing at most maxWorkers concurrent subprocesses,
// each capped at timeout (zero means no per-task timeout beyond ctx).
func New(maxWorkers int, timeout time.Duration) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{sem: make(chan struct{}, maxWorkers), timeout: timeout}
}

// Run executes a single task, blocking until a worker slot is free.
func (p *Pool) Run(ctx context.Context, t Task) (*Result, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.Wrapf(ctx.Err(), errs.KindNamespaceOp, "waiting for execpool slot: %s", t.Label)
	}
	defer func() { <-p.sem }()

	runCtx := ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, t.Name, t.Args...)
	if t.Stdin != nil {
		cmd.Stdin = bytes.NewReader(t.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := &Result{Task: t, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if runErr != nil {
		res.Err = errs.Wrapf(runErr, errs.KindNamespaceOp, "%s failed: %s", t.Label, stderr.String())
		res.Err = errs.Attr(res.Err, "stderr", stderr.String())
		return res, res.Err
	}
	return res, nil
}

// RunAll executes tasks concurrently (bounded by the pool), returning one
// Result per task in input order. It returns the first error encountered,
// but every task still runs to completion and every Result is populated —
// callers that need partial results on failure should inspect the slice
// rather than relying solely on the returned error.
func (p *Pool) RunAll(ctx context.Context, tasks []Task) ([]*Result, error) {
	results := make([]*Result, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			res, err := p.Run(ctx, t)
			results[i] = res
			return err
		})
	}
	err := g.Wait()
	return results, err
}
