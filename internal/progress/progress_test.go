// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/job"
)

func TestCreateRunAndLogPhase(t *testing.T) {
	tr := New(t.TempDir())
	rec := job.Record{RunID: "run-1", Username: "alice", CreatedAt: time.Now(), Status: job.StatusQueued}
	require.NoError(t, tr.CreateRun(rec))

	require.NoError(t, tr.LogPhase("run-1", job.PhaseResolveEndpoints, "looking up source"))
	snap, err := tr.GetProgress("run-1")
	require.NoError(t, err)
	assert.Equal(t, job.PhaseResolveEndpoints, snap.Phase)

	entries, cursor, err := tr.StreamEntries("run-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Greater(t, cursor, int64(0))
}

func TestMarkCompleteUpdatesRunRecord(t *testing.T) {
	tr := New(t.TempDir())
	rec := job.Record{RunID: "run-2", CreatedAt: time.Now()}
	require.NoError(t, tr.CreateRun(rec))

	require.NoError(t, tr.MarkComplete("run-2", job.StatusFailed, "tester crashed"))
	got, err := tr.GetRun("run-2")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "tester crashed", got.FailureReason)
	assert.NotNil(t, got.EndedAt)
}

func TestStreamEntriesResumesFromCursor(t *testing.T) {
	tr := New(t.TempDir())
	require.NoError(t, tr.CreateRun(job.Record{RunID: "run-3", CreatedAt: time.Now()}))
	require.NoError(t, tr.LogPhase("run-3", job.PhaseStarting, "a"))

	_, cursor, err := tr.StreamEntries("run-3", 0)
	require.NoError(t, err)

	require.NoError(t, tr.LogPhase("run-3", job.PhaseRunning, "b"))
	entries, _, err := tr.StreamEntries("run-3", cursor)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, job.PhaseRunning, entries[0].Phase)
}

func TestReconcilerCancelsOrphanedRun(t *testing.T) {
	tr := New(t.TempDir())
	require.NoError(t, tr.CreateRun(job.Record{RunID: "run-4", CreatedAt: time.Now()}))
	require.NoError(t, tr.LogPhase("run-4", job.PhaseRunning, "mid-flight"))

	rec := NewReconciler(tr, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, rec.Sweep(func(runID string) bool { return false }))

	got, err := tr.GetRun("run-4")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, got.Status)
}

func TestReconcilerSkipsActiveRuns(t *testing.T) {
	tr := New(t.TempDir())
	require.NoError(t, tr.CreateRun(job.Record{RunID: "run-5", CreatedAt: time.Now(), Status: job.StatusQueued}))
	require.NoError(t, tr.LogPhase("run-5", job.PhaseRunning, "mid-flight"))

	rec := NewReconciler(tr, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, rec.Sweep(func(runID string) bool { return true }))

	got, err := tr.GetRun("run-5")
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, got.Status)
}
