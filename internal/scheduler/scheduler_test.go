// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/lockmgr"
	"tsim.dev/tsim/internal/progress"
	"tsim.dev/tsim/internal/registry"
)

func newTestScheduler(t *testing.T, run RunFunc) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	locks, err := lockmgr.New(dir + "/locks")
	require.NoError(t, err)
	queue, err := NewQueue(dir + "/queue")
	require.NoError(t, err)
	reg := registry.New(dir+"/registry", locks)
	tracker := progress.New(dir + "/runs")
	return New(queue, reg, locks, tracker, run, nil, nil)
}

func TestSubmitAndRunOnceCompletesJob(t *testing.T) {
	ran := make(chan struct{}, 1)
	sched := newTestScheduler(t, func(ctx context.Context, rec job.Record, phase func(job.Phase, string)) ([]job.ServiceVerdict, error) {
		ran <- struct{}{}
		return []job.ServiceVerdict{{Reachable: true}}, nil
	})

	rec, err := sched.Submit("alice", job.Params{SourceIP: "10.0.0.1", DestIP: "10.0.0.2"})
	require.NoError(t, err)

	require.NoError(t, sched.runOnce(context.Background()))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job never executed")
	}

	got, err := sched.tracker.GetRun(rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusComplete, got.Status)
}

func TestRunOnceMarksFailedOnTesterError(t *testing.T) {
	sched := newTestScheduler(t, func(ctx context.Context, rec job.Record, phase func(job.Phase, string)) ([]job.ServiceVerdict, error) {
		return nil, assertErr("boom")
	})
	rec, err := sched.Submit("alice", job.Params{})
	require.NoError(t, err)

	require.NoError(t, sched.runOnce(context.Background()))
	got, err := sched.tracker.GetRun(rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.FailureReason)
}

func TestCancelQueuedJobRemovesFromQueue(t *testing.T) {
	sched := newTestScheduler(t, nil)
	rec, err := sched.Submit("alice", job.Params{})
	require.NoError(t, err)

	require.NoError(t, sched.Cancel(rec.RunID, "user requested"))

	_, ok, err := sched.queue.PopFront()
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := sched.tracker.GetRun(rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, got.Status)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
