// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/lockmgr"
	"tsim.dev/tsim/internal/topology"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	locks, err := lockmgr.New(dir + "/locks")
	require.NoError(t, err)
	return New(dir, locks)
}

func TestHostsRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.PutHost(topology.Host{Name: "h1", ConnectedRouter: "r1", CreatorTag: "api:alice"}))

	hosts, err := r.ListHosts()
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "h1", hosts[0].Name)

	require.NoError(t, r.RemoveHost("h1"))
	hosts, err = r.ListHosts()
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestHostLeaseRefcounting(t *testing.T) {
	r := newTestRegistry(t)

	n, err := r.AcquireHostLease("h1", "run-a", true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.AcquireHostLease("h1", "run-b", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, wsgi, err := r.ReleaseHostLease("h1", "run-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, wsgi)

	n, _, err = r.ReleaseHostLease("h1", "run-b")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "refcount should reach zero, signalling teardown")
}

func TestNeighborLeaseConflict(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.ClaimNeighborLease("r1", "ethC", "10.9.9.5", "run-a"))

	err := r.ClaimNeighborLease("r1", "ethC", "10.9.9.5", "run-b")
	require.Error(t, err)

	require.NoError(t, r.ReleaseNeighborLease("r1", "ethC", "10.9.9.5"))
	require.NoError(t, r.ClaimNeighborLease("r1", "ethC", "10.9.9.5", "run-b"))
}

func TestActiveRunAtMostOne(t *testing.T) {
	r := newTestRegistry(t)

	_, ok, err := r.GetActiveRun()
	require.NoError(t, err)
	assert.False(t, ok)

	rec := job.Record{RunID: "run-1", Username: "alice", CreatedAt: time.Now(), Status: job.StatusRunning}
	require.NoError(t, r.SetActiveRun(rec))

	got, ok, err := r.GetActiveRun()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", got.RunID)

	require.NoError(t, r.ClearActiveRun())
	_, ok, err = r.GetActiveRun()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouterLocksOrderedAcquisition(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.AcquireRouterLocks([]string{"r3", "r1", "r2"}, time.Second))
	r.ReleaseRouterLocks([]string{"r3", "r1", "r2"})
}

func TestRegistryCorruptionQuarantine(t *testing.T) {
	dir := t.TempDir()
	locks, err := lockmgr.New(dir + "/locks")
	require.NoError(t, err)
	r := New(dir, locks)

	require.NoError(t, r.PutHost(topology.Host{Name: "h1"}))

	// Corrupt the file in place.
	require.NoError(t, os.WriteFile(dir+"/hosts.json", []byte("{not json"), 0644))

	_, err = r.ListHosts()
	require.Error(t, err)
}

func TestDSCPAllocateIsStableAndReleases(t *testing.T) {
	r := newTestRegistry(t)

	dscp1, err := r.AllocateDSCP("run_1", "alice")
	require.NoError(t, err)
	assert.Equal(t, dscpMin, dscp1)

	dscp2, err := r.AllocateDSCP("run_2", "alice")
	require.NoError(t, err)
	assert.Equal(t, dscpMin+1, dscp2)

	again, err := r.AllocateDSCP("run_1", "alice")
	require.NoError(t, err)
	assert.Equal(t, dscp1, again, "re-allocating the same run returns its existing value")

	status, err := r.DSCPStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalAllocations)

	require.NoError(t, r.ReleaseDSCP("run_1"))
	_, ok, err := r.GetRunDSCP("run_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDSCPAllocateExhaustsRange(t *testing.T) {
	r := newTestRegistry(t)
	for v := dscpMin; v <= dscpMax; v++ {
		_, err := r.AllocateDSCP(string(rune(v)), "alice")
		require.NoError(t, err)
	}
	_, err := r.AllocateDSCP("overflow", "alice")
	assert.Error(t, err)
}

func TestDSCPCleanupStaleRemovesOldAllocations(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.AllocateDSCP("run_1", "alice")
	require.NoError(t, err)

	removed, err := r.CleanupStaleDSCPAllocations(-time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err := r.GetRunDSCP("run_1")
	require.NoError(t, err)
	assert.False(t, ok)
}
