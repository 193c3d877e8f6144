// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/errs"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.Acquire(context.Background(), "router1", time.Second, 0))
	require.NoError(t, m.Release("router1"))
}

func TestAcquireTimesOutWhenHeldElsewhere(t *testing.T) {
	dir := t.TempDir()
	holder, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, holder.Acquire(context.Background(), "router1", 0, 0))
	defer holder.Release("router1")

	contender, err := New(dir)
	require.NoError(t, err)

	err = contender.Acquire(context.Background(), "router1", 100*time.Millisecond, 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errs.KindLockTimeout, errs.GetKind(err))
}

func TestAcquireOrderedReleasesOnFailure(t *testing.T) {
	dir := t.TempDir()
	holder, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, holder.Acquire(context.Background(), "r3", 0, 0))
	defer holder.Release("r3")

	contender, err := New(dir)
	require.NoError(t, err)

	err = contender.AcquireOrdered(context.Background(), []string{"r1", "r2", "r3"}, 50*time.Millisecond)
	require.Error(t, err)

	// r1 and r2 should have been released even though r3 failed.
	require.NoError(t, contender.Acquire(context.Background(), "r1", 0, 0))
	require.NoError(t, contender.Release("r1"))
}

func TestAcquireOrderedAcceptsUnsortedNames(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.AcquireOrdered(context.Background(), []string{"rC", "rA", "rB"}, time.Second))
	m.ReleaseAll([]string{"rC", "rA", "rB"})
}
