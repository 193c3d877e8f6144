// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"sort"
	"time"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/lockmgr"
	"tsim.dev/tsim/internal/topology"
)

// HostLease tracks which runs currently hold a claim on a dynamically
// attached host namespace (spec §3).
type HostLease struct {
	Holders   []string `json:"holders"` // run_ids
	Refcount  int      `json:"refcount"`
	WSGI      bool     `json:"wsgi_created"` // only wsgi-tagged hosts are torn down at refcount 0
}

// NeighborLease is claimed when a tester needs to occupy an address on an
// access subnet (spec §3).
type NeighborLease struct {
	Router   string `json:"router"`
	Iface    string `json:"interface"`
	Address  string `json:"address"`
	RunID    string `json:"run_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

func neighborKey(router, iface, address string) string {
	return router + "|" + iface + "|" + address
}

// Registry is the process-shared state layer (spec §4.B), backed by JSON
// files under a shared-memory directory.
type Registry struct {
	hosts           *jsonStore
	hostLeases      *jsonStore
	neighborLeases  *jsonStore
	activeRun       *jsonStore
	activeRunByUser *jsonStore
	dscp            *jsonStore
	locks           *lockmgr.Manager
}

// New creates a Registry rooted at dir, using locks for all file guards and
// router-lock acquisition.
func New(dir string, locks *lockmgr.Manager) *Registry {
	return &Registry{
		hosts:           newJSONStore(dir, "hosts.json", locks),
		hostLeases:      newJSONStore(dir, "host_leases.json", locks),
		neighborLeases:  newJSONStore(dir, "neighbor_leases.json", locks),
		activeRun:       newJSONStore(dir, "active_run.json", locks),
		activeRunByUser: newJSONStore(dir, "active_run_by_user.json", locks),
		dscp:            newJSONStore(dir, "dscp_allocations.json", locks),
		locks:           locks,
	}
}

// --- hosts.json -----------------------------------------------------------

// PutHost records a newly created host, invariant: every entry corresponds
// to an existing host namespace until explicitly released.
func (r *Registry) PutHost(h topology.Host) error {
	m := make(map[string]topology.Host)
	return r.hosts.update(&m, func() error {
		m[h.Name] = h
		return nil
	})
}

// RemoveHost deletes a host entry.
func (r *Registry) RemoveHost(name string) error {
	m := make(map[string]topology.Host)
	return r.hosts.update(&m, func() error {
		delete(m, name)
		return nil
	})
}

// ListHosts returns every registered host.
func (r *Registry) ListHosts() ([]topology.Host, error) {
	m := make(map[string]topology.Host)
	if err := r.hosts.view(&m); err != nil {
		return nil, err
	}
	out := make([]topology.Host, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out, nil
}

// GetHost looks up a host by name.
func (r *Registry) GetHost(name string) (topology.Host, bool, error) {
	m := make(map[string]topology.Host)
	if err := r.hosts.view(&m); err != nil {
		return topology.Host{}, false, err
	}
	h, ok := m[name]
	return h, ok, nil
}

// --- host_leases.json -------------------------------------------------------

// AcquireHostLease increments a host's refcount for runID, creating the
// lease record (and marking it wsgi-created) on first claim.
func (r *Registry) AcquireHostLease(hostName, runID string, wsgiCreated bool) (int, error) {
	m := make(map[string]HostLease)
	var refcount int
	err := r.hostLeases.update(&m, func() error {
		lease, ok := m[hostName]
		if !ok {
			lease = HostLease{WSGI: wsgiCreated}
		}
		if !containsStr(lease.Holders, runID) {
			lease.Holders = append(lease.Holders, runID)
		}
		lease.Refcount++
		m[hostName] = lease
		refcount = lease.Refcount
		return nil
	})
	return refcount, err
}

// ReleaseHostLease decrements a host's refcount for runID. Returns the
// resulting refcount and whether the lease record was wsgi-created — the
// caller uses (refcount==0 && wsgi) to decide whether to destroy the host
// namespace, per spec §3's host_leases invariant.
func (r *Registry) ReleaseHostLease(hostName, runID string) (refcount int, wsgi bool, err error) {
	m := make(map[string]HostLease)
	err = r.hostLeases.update(&m, func() error {
		lease, ok := m[hostName]
		if !ok {
			return errs.Errorf(errs.KindNotFound, "no lease for host %s", hostName)
		}
		lease.Holders = removeStr(lease.Holders, runID)
		if lease.Refcount > 0 {
			lease.Refcount--
		}
		wsgi = lease.WSGI
		refcount = lease.Refcount
		if lease.Refcount == 0 {
			delete(m, hostName)
		} else {
			m[hostName] = lease
		}
		return nil
	})
	return refcount, wsgi, err
}

// --- neighbor_leases.json ---------------------------------------------------

// ClaimNeighborLease claims (router, iface, address) for runID. Returns
// errs.KindConflict if already held by a different run.
func (r *Registry) ClaimNeighborLease(router, iface, address, runID string) error {
	m := make(map[string]NeighborLease)
	return r.neighborLeases.update(&m, func() error {
		key := neighborKey(router, iface, address)
		if existing, ok := m[key]; ok && existing.RunID != runID {
			return errs.Errorf(errs.KindConflict, "address %s on %s/%s already leased to run %s",
				address, router, iface, existing.RunID)
		}
		m[key] = NeighborLease{Router: router, Iface: iface, Address: address, RunID: runID, ClaimedAt: time.Now()}
		return nil
	})
}

// ReleaseNeighborLease releases a previously claimed address.
func (r *Registry) ReleaseNeighborLease(router, iface, address string) error {
	m := make(map[string]NeighborLease)
	return r.neighborLeases.update(&m, func() error {
		delete(m, neighborKey(router, iface, address))
		return nil
	})
}

// --- router_locks/ -----------------------------------------------------------

// AcquireRouterLocks locks a set of routers in canonical order, per spec
// §4.H, delegating to the shared lock manager.
func (r *Registry) AcquireRouterLocks(routers []string, timeout time.Duration) error {
	names := make([]string, len(routers))
	for i, rt := range routers {
		names[i] = "router-" + rt
	}
	return r.locks.AcquireOrdered(bgCtx(), names, timeout)
}

// ReleaseRouterLocks releases a set of router locks.
func (r *Registry) ReleaseRouterLocks(routers []string) {
	names := make([]string, len(routers))
	for i, rt := range routers {
		names[i] = "router-" + rt
	}
	r.locks.ReleaseAll(names)
}

// --- active_run.json ---------------------------------------------------------

// SetActiveRun persists the current running job. At most one may be active.
func (r *Registry) SetActiveRun(rec job.Record) error {
	var cur job.Record
	return r.activeRun.update(&cur, func() error {
		cur = rec
		return nil
	})
}

// ClearActiveRun clears the active-job record.
func (r *Registry) ClearActiveRun() error {
	var cur job.Record
	return r.activeRun.update(&cur, func() error {
		cur = job.Record{}
		return nil
	})
}

// GetActiveRun returns the current active job, if any.
func (r *Registry) GetActiveRun() (job.Record, bool, error) {
	var cur job.Record
	if err := r.activeRun.view(&cur); err != nil {
		return job.Record{}, false, err
	}
	return cur, cur.RunID != "", nil
}

// SetActiveRunForUser records runID as user's currently active run, a hint
// of "what is this user running right now" shared by every process using
// the registry (spec §4.G).
func (r *Registry) SetActiveRunForUser(user, runID string) error {
	m := make(map[string]string)
	return r.activeRunByUser.update(&m, func() error {
		m[user] = runID
		return nil
	})
}

// ClearActiveRunForUser clears user's active-run hint. Called once the run
// reaches a terminal status, so the hint never outlives the run it names.
func (r *Registry) ClearActiveRunForUser(user string) error {
	m := make(map[string]string)
	return r.activeRunByUser.update(&m, func() error {
		delete(m, user)
		return nil
	})
}

// GetActiveRunForUser returns user's active run_id, if any. This is only a
// hint: a worker that crashed mid-run can leave a stale entry behind, so
// callers should validate it against the Progress Tracker's on-disk run
// record (job.Status) before trusting it (spec §4.G, §9).
func (r *Registry) GetActiveRunForUser(user string) (string, bool, error) {
	m := make(map[string]string)
	if err := r.activeRunByUser.view(&m); err != nil {
		return "", false, err
	}
	runID, ok := m[user]
	return runID, ok, nil
}

// DSCPAllocation records which run holds a DSCP value, so concurrently
// running jobs tag their probe traffic with distinct values (spec §4.E
// "DSCP tagging").
type DSCPAllocation struct {
	DSCP        int       `json:"dscp"`
	RunID       string    `json:"run_id"`
	Username    string    `json:"username"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// dscpMin and dscpMax bound the allocatable range; 32 values matches the
// original deployment's DSCP registry.
const (
	dscpMin = 32
	dscpMax = 63
)

// AllocateDSCP claims the lowest free DSCP value in [dscpMin, dscpMax] for
// runID, or returns a KindConflict error once the range is exhausted.
// Allocating the same runID twice returns its existing value rather than a
// second one.
func (r *Registry) AllocateDSCP(runID, username string) (int, error) {
	m := make(map[string]DSCPAllocation)
	var allocated int
	err := r.dscp.update(&m, func() error {
		if existing, ok := m[runID]; ok {
			allocated = existing.DSCP
			return nil
		}
		used := make(map[int]bool, len(m))
		for _, a := range m {
			used[a.DSCP] = true
		}
		for v := dscpMin; v <= dscpMax; v++ {
			if !used[v] {
				m[runID] = DSCPAllocation{DSCP: v, RunID: runID, Username: username, AllocatedAt: time.Now()}
				allocated = v
				return nil
			}
		}
		return errs.New(errs.KindConflict, "no DSCP value available in range")
	})
	if err != nil {
		return 0, err
	}
	return allocated, nil
}

// ReleaseDSCP frees runID's allocation, if any.
func (r *Registry) ReleaseDSCP(runID string) error {
	m := make(map[string]DSCPAllocation)
	return r.dscp.update(&m, func() error {
		delete(m, runID)
		return nil
	})
}

// GetRunDSCP returns runID's currently allocated DSCP value, if any.
func (r *Registry) GetRunDSCP(runID string) (int, bool, error) {
	m := make(map[string]DSCPAllocation)
	if err := r.dscp.view(&m); err != nil {
		return 0, false, err
	}
	a, ok := m[runID]
	return a.DSCP, ok, nil
}

// DSCPStatus summarizes current allocations (spec §6 "get_allocation_status").
type DSCPStatus struct {
	TotalAllocations int   `json:"total_allocations"`
	UsedDSCPs        []int `json:"used_dscps"`
}

func (r *Registry) DSCPStatus() (DSCPStatus, error) {
	m := make(map[string]DSCPAllocation)
	if err := r.dscp.view(&m); err != nil {
		return DSCPStatus{}, err
	}
	used := make([]int, 0, len(m))
	for _, a := range m {
		used = append(used, a.DSCP)
	}
	sort.Ints(used)
	return DSCPStatus{TotalAllocations: len(m), UsedDSCPs: used}, nil
}

// CleanupStaleDSCPAllocations releases any allocation older than maxAge,
// guarding against a crashed run leaking its DSCP value forever (spec §9).
func (r *Registry) CleanupStaleDSCPAllocations(maxAge time.Duration) (int, error) {
	m := make(map[string]DSCPAllocation)
	removed := 0
	err := r.dscp.update(&m, func() error {
		cutoff := time.Now().Add(-maxAge)
		for runID, a := range m {
			if a.AllocatedAt.Before(cutoff) {
				delete(m, runID)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func containsStr(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func removeStr(ss []string, s string) []string {
	out := ss[:0:0]
	for _, x := range ss {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
