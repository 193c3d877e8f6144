// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tsim.dev/tsim/internal/config"
	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/lockmgr"
	"tsim.dev/tsim/internal/logging"
	"tsim.dev/tsim/internal/progress"
	"tsim.dev/tsim/internal/registry"
)

// networkTestLock is the single global lock serializing realization and
// reachability testing across the whole tsim deployment (spec §4.F, §4.H):
// only one job ever has live namespace state under test at a time.
const networkTestLock = "network_test"

const leaderLock = "scheduler-leader"

// RunFunc executes one job's reachability test. phase is called as the
// tester advances; RunFunc should honor ctx cancellation promptly so
// cooperative cancellation (spec §4.F) can take effect between phases.
type RunFunc func(ctx context.Context, rec job.Record, phase func(job.Phase, string)) ([]job.ServiceVerdict, error)

// FinishHook is invoked once a job reaches a terminal status, after the
// progress record has been persisted. It is typically wired to the External
// Interface Layer's metrics (spec §4.I).
type FinishHook func(rec job.Record, status job.Status)

// Scheduler runs the FIFO job queue under single-leader election.
type Scheduler struct {
	queue     *Queue
	reg       *registry.Registry
	locks     *lockmgr.Manager
	tracker   *progress.Tracker
	run       RunFunc
	log       *logging.Logger
	pollEvery time.Duration
	onFinish  FinishHook
}

// OnFinish registers hook to be called whenever a job completes, fails, or
// is cancelled. Only one hook may be registered at a time.
func (s *Scheduler) OnFinish(hook FinishHook) { s.onFinish = hook }

// New creates a Scheduler.
func New(queue *Queue, reg *registry.Registry, locks *lockmgr.Manager, tracker *progress.Tracker, run RunFunc, cfg *config.Config, log *logging.Logger) *Scheduler {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Scheduler{
		queue: queue, reg: reg, locks: locks, tracker: tracker, run: run, log: log,
		pollEvery: time.Duration(cfg.Scheduler.LeaderPollIntervalMS) * time.Millisecond,
	}
}

// Submit enqueues a new job for username and returns its record.
func (s *Scheduler) Submit(username string, params job.Params) (job.Record, error) {
	rec := job.Record{
		RunID:     uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now(),
		Params:    params,
		Status:    job.StatusQueued,
	}
	rec, err := s.queue.Enqueue(rec)
	if err != nil {
		return job.Record{}, err
	}
	if err := s.tracker.CreateRun(rec); err != nil {
		return job.Record{}, err
	}
	return rec, nil
}

// Cancel requests cancellation of runID. If the job is still queued it is
// removed immediately and marked CANCELLED (pre-start cancellation); if it
// is already running, a cancel request is recorded for the running leader
// to observe between phases (spec §4.F).
func (s *Scheduler) Cancel(runID, reason string) error {
	removed, err := s.queue.Remove(runID)
	if err != nil {
		return err
	}
	if removed {
		return s.tracker.MarkComplete(runID, job.StatusCancelled, reason)
	}
	return s.tracker.RequestCancel(runID, reason)
}

// RunLeader contends for the leader lock and, once acquired, services the
// queue one job at a time until ctx is cancelled. It blocks for the
// lifetime of leadership; callers typically run it in its own goroutine.
func (s *Scheduler) RunLeader(ctx context.Context) error {
	if err := s.locks.Acquire(ctx, leaderLock, 0, 0); err != nil {
		return errs.Wrap(err, errs.KindLockTimeout, "acquiring scheduler leadership")
	}
	defer s.locks.Release(leaderLock)

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				s.log.WithError(err).Error("job execution failed")
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	rec, ok, err := s.queue.PopFront()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := s.locks.Acquire(ctx, networkTestLock, 0, 0); err != nil {
		return errs.Wrap(err, errs.KindLockTimeout, "acquiring network_test lock")
	}
	defer s.locks.Release(networkTestLock)

	return s.execute(ctx, rec)
}

func (s *Scheduler) execute(ctx context.Context, rec job.Record) error {
	now := time.Now()
	rec.StartedAt = &now
	rec.Status = job.StatusStarting
	if err := s.reg.SetActiveRun(rec); err != nil {
		return err
	}
	defer s.reg.ClearActiveRun()
	if err := s.reg.SetActiveRunForUser(rec.Username, rec.RunID); err != nil {
		return err
	}
	defer s.reg.ClearActiveRunForUser(rec.Username)

	if err := s.tracker.LogPhase(rec.RunID, job.PhaseStarting, ""); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	phase := func(p job.Phase, details string) {
		if _, requested := s.tracker.GetCancelRequest(rec.RunID); requested {
			cancel()
		}
		s.tracker.LogPhase(rec.RunID, p, details)
	}
	phase(job.PhaseRunning, "")

	_, runErr := s.run(runCtx, rec, phase)
	var finalStatus job.Status
	var markErr error
	switch {
	case runCtx.Err() != nil:
		reason := "cancelled"
		if cr, ok := s.tracker.GetCancelRequest(rec.RunID); ok && cr.Reason != "" {
			reason = cr.Reason
		}
		finalStatus = job.StatusCancelled
		markErr = s.tracker.MarkComplete(rec.RunID, finalStatus, reason)
	case runErr != nil:
		finalStatus = job.StatusFailed
		markErr = s.tracker.MarkComplete(rec.RunID, finalStatus, runErr.Error())
	default:
		finalStatus = job.StatusComplete
		markErr = s.tracker.MarkComplete(rec.RunID, finalStatus, "")
	}
	if markErr == nil && s.onFinish != nil {
		s.onFinish(rec, finalStatus)
	}
	return markErr
}
