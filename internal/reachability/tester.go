// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reachability

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/realize"
	"tsim.dev/tsim/internal/registry"
	"tsim.dev/tsim/internal/topology"
)

// transientEndpointLockTimeout bounds how long a probe waits for a router
// lock when attaching a transient host for an off-subnet endpoint (spec
// §4.H); the run already holds the global network_test lock, so this is
// only ever contended by the External Interface Layer's Setup/Teardown/
// AddHost calls.
const transientEndpointLockTimeout = 10 * time.Second

// baseDSCP and maxDSCP bound the DSCP values a run can be tagged with (spec
// §4.E "DSCP tagging"); the Registry's DSCP allocator hands out one value
// per run from this range, and baseDSCP is the fallback used when no
// Registry backs this Tester.
const (
	baseDSCP = 32
	maxDSCP  = 63
)

// PhaseFunc receives a progress notification as the Tester advances; it may
// be nil.
type PhaseFunc func(phase job.Phase, details string)

// leasedEndpoint is a neighbor lease claimed during Run, released in the
// cleanup phase regardless of how Run exits.
type leasedEndpoint struct {
	router, iface, address string
}

// Tester runs the reachability probe pipeline against a Topology. reg and
// engine are optional: when nil, endpoints outside any declared subnet still
// fail resolution, but an off-subnet endpoint that resolves to an access
// subnet is accepted without claiming a lease or materializing a transient
// host (the path used by tests that exercise pure path/rule logic).
type Tester struct {
	topo    *topology.Topology
	onPhase PhaseFunc
	reg     *registry.Registry
	engine  *realize.Engine
	runID   string

	leases         []leasedEndpoint
	transientHosts []string
}

// New creates a Tester bound to topo. reg and engine back spec §4.E phase
// 1's neighbor-lease claim and transient-host attach for endpoints that
// aren't themselves a declared router address; runID scopes the leases and
// transient host CreatorTags to this run.
func New(topo *topology.Topology, onPhase PhaseFunc, reg *registry.Registry, engine *realize.Engine, runID string) *Tester {
	return &Tester{topo: topo, onPhase: onPhase, reg: reg, engine: engine, runID: runID}
}

func (t *Tester) notify(phase job.Phase, details string) {
	if t.onPhase != nil {
		t.onPhase(phase, details)
	}
}

// Run executes all five phases for params, returning one ServiceVerdict per
// requested service (spec §4.E).
func (t *Tester) Run(ctx context.Context, params job.Params) ([]job.ServiceVerdict, error) {
	defer t.cleanupTransientState()

	t.notify(job.PhaseResolveEndpoints, fmt.Sprintf("%s -> %s", params.SourceIP, params.DestIP))
	srcIP := net.ParseIP(params.SourceIP)
	if srcIP == nil {
		return nil, errs.Errorf(errs.KindValidation, "invalid source address %q", params.SourceIP)
	}
	srcRouter, err := t.resolveEndpointRouter(srcIP, "source")
	if err != nil {
		return nil, err
	}
	dstIP := net.ParseIP(params.DestIP)
	if dstIP == nil {
		return nil, errs.Errorf(errs.KindValidation, "invalid destination address %q", params.DestIP)
	}
	if _, err := t.resolveEndpointRouter(dstIP, "destination"); err != nil {
		return nil, err
	}

	t.notify(job.PhaseComputePath, fmt.Sprintf("from %s", srcRouter))
	path, err := ComputePath(t.topo, srcRouter, params.DestIP)
	if err != nil {
		return nil, err
	}
	if path.Loop {
		return nil, errs.New(errs.KindPathLoop, "routing loop detected while computing path")
	}
	if path.Blackhole {
		return nil, errs.New(errs.KindPathBlackhole, "no route to destination along computed path")
	}

	t.notify(job.PhasePrepareWaypoints, fmt.Sprintf("%d hops", len(path.Hops)))

	dscp, err := t.allocateDSCP()
	if err != nil {
		return nil, err
	}
	defer t.releaseDSCP()

	verdicts := make([]job.ServiceVerdict, 0, len(params.Services))
	for _, svc := range params.Services {
		select {
		case <-ctx.Done():
			return verdicts, ctx.Err()
		default:
		}
		t.notify(job.PhaseProbeService, fmt.Sprintf("%s/%d", svc.Proto, svc.Port))
		verdicts = append(verdicts, t.probeService(params, svc, path, dscp, params.AnalysisMode))
	}

	t.notify(job.PhaseCleanup, "releasing probe state")
	return verdicts, nil
}

// resolveEndpointRouter identifies the router that owns ip (spec §4.E phase
// 1). An exact match against a router's own interface address is "directly
// connected" and needs nothing further. Otherwise, if ip still falls inside
// some router's declared subnet, it's an address on that access link that
// hasn't been materialized yet: claim a neighbor lease and attach a
// transient host so the probe has somewhere to originate or land.
func (t *Tester) resolveEndpointRouter(ip net.IP, label string) (string, error) {
	for _, r := range t.topo.Routers {
		if exactInterfaceMatch(r, ip) {
			return r.Hostname, nil
		}
	}

	router, iface, prefixLen, ok := findAccessSubnet(t.topo, ip)
	if !ok {
		return "", errs.Errorf(errs.KindValidation, "%s address %s is not reachable from any declared subnet", label, ip)
	}
	if err := t.claimTransientEndpoint(router, iface, prefixLen, ip); err != nil {
		return "", err
	}
	return router, nil
}

func (t *Tester) claimTransientEndpoint(router, iface string, prefixLen int, ip net.IP) error {
	if t.reg == nil {
		return nil
	}
	addr := ip.String()
	if err := t.reg.ClaimNeighborLease(router, iface, addr, t.runID); err != nil {
		return errs.Wrapf(err, errs.KindConflict, "claiming neighbor lease for %s", addr)
	}
	t.leases = append(t.leases, leasedEndpoint{router: router, iface: iface, address: addr})

	if t.engine == nil {
		return nil
	}
	if err := t.reg.AcquireRouterLocks([]string{router}, transientEndpointLockTimeout); err != nil {
		return errs.Wrapf(err, errs.KindLockTimeout, "locking router %s for transient host", router)
	}
	defer t.reg.ReleaseRouterLocks([]string{router})

	hostName := "tsim-transient-" + strings.ReplaceAll(addr, ".", "-")
	if _, err := t.engine.AddHost(t.topo, realize.HostSpec{
		Name: hostName, PrimaryAddress: addr, PrefixLen: prefixLen,
		ConnectedRouter: router, ConnectedIface: iface, CreatorTag: "transient:" + t.runID,
	}); err != nil {
		return errs.Wrapf(err, errs.KindSetupPartial, "attaching transient host for %s", addr)
	}
	t.transientHosts = append(t.transientHosts, hostName)
	return nil
}

// cleanupTransientState releases every lease and tears down every transient
// host this run claimed, regardless of how Run exits (spec §4.E phase 5).
func (t *Tester) cleanupTransientState() {
	for _, h := range t.transientHosts {
		if t.engine != nil {
			_ = t.engine.RemoveHost(h)
		}
	}
	for _, l := range t.leases {
		if t.reg != nil {
			_ = t.reg.ReleaseNeighborLease(l.router, l.iface, l.address)
		}
	}
}

// allocateDSCP claims this run's DSCP tag from the Registry, falling back to
// the fixed baseDSCP when no Registry is wired (pure path/rule tests). Every service probed by this run shares the one value,
// matching the original DSCP registry's per-job (not per-service) allocation.
func (t *Tester) allocateDSCP() (int, error) {
	if t.reg == nil {
		return baseDSCP, nil
	}
	dscp, err := t.reg.AllocateDSCP(t.runID, t.runID)
	if err != nil {
		return 0, errs.Wrap(err, errs.KindConflict, "allocating DSCP for run")
	}
	return dscp, nil
}

func (t *Tester) releaseDSCP() {
	if t.reg != nil {
		_ = t.reg.ReleaseDSCP(t.runID)
	}
}

func exactInterfaceMatch(r topology.Router, ip net.IP) bool {
	for _, iface := range r.Interfaces {
		for _, addr := range iface.Addrs {
			if addr.Family != "inet" {
				continue
			}
			if a := net.ParseIP(addr.Address); a != nil && a.Equal(ip) {
				return true
			}
		}
	}
	return false
}

// probeService evaluates one service along path. In quick mode, only the
// source and destination routers are probed (spec §4.E "quick probes only
// the endpoints"); detailed mode records a decision at every hop.
func (t *Tester) probeService(params job.Params, svc job.Service, path *PathResult, dscp int, mode job.AnalysisMode) job.ServiceVerdict {
	start := time.Now()
	pkt := Packet{
		SrcIP: params.SourceIP, DstIP: params.DestIP,
		SrcPort: params.SourcePort, DstPort: svc.Port,
		Protocol: svc.Proto, DSCP: dscp,
	}

	verdict := job.ServiceVerdict{Service: svc, FinalDecision: job.DecisionAccept}

	hops := path.Hops
	if mode == job.ModeQuick && len(hops) > 2 {
		hops = []Hop{hops[0], hops[len(hops)-1]}
	}

	for i, hop := range hops {
		pkt.InInterface = hop.InInterface
		pkt.OutInterface = hop.OutInterface
		isFinal := i == len(hops)-1

		router, ok := t.topo.RouterByName(hop.Router)
		if !ok {
			continue
		}
		decision, ruleID := EvaluateHop(*router, pkt, isFinal)
		chain := "FORWARD"
		if isFinal {
			chain = "INPUT"
		}
		verdict.WaypointResults = append(verdict.WaypointResults, job.WaypointResult{
			Router: hop.Router, Chain: chain, RuleID: ruleID, Decision: decision,
		})

		if decision != job.DecisionAccept {
			verdict.FinalDecision = decision
			break
		}
	}

	verdict.Reachable = verdict.FinalDecision == job.DecisionAccept
	verdict.TimingMS = time.Since(start).Milliseconds()
	return verdict
}
