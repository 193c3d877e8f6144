// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/job"
)

func TestQueueFIFOOrdering(t *testing.T) {
	q, err := NewQueue(t.TempDir())
	require.NoError(t, err)

	a, err := q.Enqueue(job.Record{RunID: "a"})
	require.NoError(t, err)
	b, err := q.Enqueue(job.Record{RunID: "b"})
	require.NoError(t, err)
	assert.Less(t, a.Sequence, b.Sequence)

	first, ok, err := q.PopFront()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", first.RunID)

	second, ok, err := q.PopFront()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", second.RunID)

	_, ok, err = q.PopFront()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueRemoveCancelsBeforeStart(t *testing.T) {
	q, err := NewQueue(t.TempDir())
	require.NoError(t, err)
	_, err = q.Enqueue(job.Record{RunID: "x"})
	require.NoError(t, err)

	removed, err := q.Remove("x")
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := q.PopFront()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueRecoversSequenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	q1, err := NewQueue(dir)
	require.NoError(t, err)
	_, err = q1.Enqueue(job.Record{RunID: "a"})
	require.NoError(t, err)
	rec2, err := q1.Enqueue(job.Record{RunID: "b"})
	require.NoError(t, err)

	q2, err := NewQueue(dir)
	require.NoError(t, err)
	rec3, err := q2.Enqueue(job.Record{RunID: "c"})
	require.NoError(t, err)
	assert.Greater(t, rec3.Sequence, rec2.Sequence)
}
