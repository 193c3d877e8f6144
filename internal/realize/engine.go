// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package realize

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/logging"
	"tsim.dev/tsim/internal/netutil"
	"tsim.dev/tsim/internal/topology"
)

// Engine drives topology realization against a Backend.
type Engine struct {
	backend Backend
	log     *logging.Logger
}

// New creates an Engine.
func New(backend Backend, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNop()
	}
	return &Engine{backend: backend, log: log}
}

// SetupReport summarizes a realization run (spec §4.C).
type SetupReport struct {
	RoutersCreated []string
	LinksCreated   []string
	Warnings       []string
}

// checkpoint tracks namespaces created so far in a Setup call, so a partial
// failure can be rolled back by deleting only what this run created — the
// same save-checkpoint/rollback discipline the reference firewall manager
// applies to ruleset changes, applied here to namespace lifecycle instead.
type checkpoint struct {
	namespaces []string
}

func (c *checkpoint) track(ns string) { c.namespaces = append(c.namespaces, ns) }

func (c *checkpoint) rollback(b Backend, log *logging.Logger) {
	for i := len(c.namespaces) - 1; i >= 0; i-- {
		ns := c.namespaces[i]
		if err := b.DeleteNamespace(ns); err != nil {
			log.WithError(err).Warn("rollback: failed to delete namespace", "namespace", ns)
		}
	}
}

// Setup realizes every router namespace and link in topo. On any failure it
// rolls back everything this call created and returns the error (spec §4.C
// step 4's "verification pass" and the partial-failure rollback guarantee).
func (e *Engine) Setup(topo *topology.Topology) (*SetupReport, error) {
	report := &SetupReport{}
	cp := &checkpoint{}

	for _, r := range topo.Routers {
		ns := netutil.NamespaceName(r.Hostname)
		if e.backend.NamespaceExists(ns) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("namespace %s already exists, reusing", ns))
			continue
		}
		if err := e.backend.CreateNamespace(ns); err != nil {
			cp.rollback(e.backend, e.log)
			return report, errs.Wrapf(err, errs.KindSetupPartial, "creating namespace for %s", r.Hostname)
		}
		cp.track(ns)
		report.RoutersCreated = append(report.RoutersCreated, r.Hostname)
	}

	for _, link := range topo.Links {
		if err := e.realizeLink(topo, link, cp); err != nil {
			cp.rollback(e.backend, e.log)
			return report, errs.Wrapf(err, errs.KindSetupPartial, "realizing link %s", link.ID)
		}
		report.LinksCreated = append(report.LinksCreated, link.ID)
	}

	for _, r := range topo.Routers {
		if err := e.applyFirewallState(r); err != nil {
			cp.rollback(e.backend, e.log)
			return report, errs.Wrapf(err, errs.KindSetupPartial, "applying firewall state for %s", r.Hostname)
		}
	}

	for _, r := range topo.Routers {
		if err := e.installRoutes(r); err != nil {
			cp.rollback(e.backend, e.log)
			return report, errs.Wrapf(err, errs.KindSetupPartial, "installing routes for %s", r.Hostname)
		}
	}

	if err := e.verify(topo); err != nil {
		cp.rollback(e.backend, e.log)
		return report, errs.Wrap(err, errs.KindSetupPartial, "verification failed after setup")
	}

	return report, nil
}

func (e *Engine) realizeLink(topo *topology.Topology, link topology.Link, cp *checkpoint) error {
	switch link.Kind {
	case topology.LinkKindP2P, topology.LinkKindAccess:
		return e.realizeDirectLink(link)
	case topology.LinkKindBridge:
		return e.realizeBridgeLink(link, cp)
	default:
		return errs.Errorf(errs.KindSetupPartial, "unknown link kind %q for link %s", link.Kind, link.ID)
	}
}

func (e *Engine) realizeDirectLink(link topology.Link) error {
	if len(link.Endpoints) != 2 {
		// Access links have a single router endpoint; the peer is a host,
		// attached later via AddHost, not during topology realization.
		if len(link.Endpoints) == 1 {
			return e.realizeEndpoint(link.Endpoints[0], netutil.NamespaceName(link.Endpoints[0].Router))
		}
		return errs.Errorf(errs.KindSetupPartial, "link %s has %d endpoints, want 1 or 2", link.ID, len(link.Endpoints))
	}

	a, bEnd := link.Endpoints[0], link.Endpoints[1]
	vethA := netutil.VethPeerName(a.Router, bEnd.Router, a.Interface)
	vethB := netutil.VethPeerName(bEnd.Router, a.Router, bEnd.Interface)

	if err := e.backend.CreateVethPair(vethA, vethB); err != nil {
		return err
	}
	nsA, nsB := netutil.NamespaceName(a.Router), netutil.NamespaceName(bEnd.Router)
	if err := e.backend.MoveToNamespace(vethA, nsA); err != nil {
		return err
	}
	if err := e.backend.MoveToNamespace(vethB, nsB); err != nil {
		return err
	}
	if err := e.configureEndpoint(nsA, vethA, a); err != nil {
		return err
	}
	return e.configureEndpoint(nsB, vethB, bEnd)
}

func (e *Engine) realizeEndpoint(ep topology.LinkEndpoint, ns string) error {
	name := netutil.VethPeerName(ep.Router, "access", ep.Interface)
	if err := e.backend.SetLinkUp(ns, name); err != nil {
		return err
	}
	return e.configureEndpoint(ns, name, ep)
}

func (e *Engine) configureEndpoint(ns, ifaceName string, ep topology.LinkEndpoint) error {
	if err := e.backend.SetLinkUp(ns, ifaceName); err != nil {
		return err
	}
	if ep.Address == "" {
		return nil
	}
	ip := net.ParseIP(ep.Address)
	if ip == nil {
		return errs.Errorf(errs.KindSetupPartial, "invalid address %q on %s/%s", ep.Address, ep.Router, ep.Interface)
	}
	mask := net.CIDRMask(ep.PrefixLen, 32)
	return e.backend.AddAddress(ns, ifaceName, &net.IPNet{IP: ip, Mask: mask})
}

func (e *Engine) realizeBridgeLink(link topology.Link, cp *checkpoint) error {
	if len(link.Endpoints) == 0 {
		return errs.Errorf(errs.KindSetupPartial, "bridge link %s has no endpoints", link.ID)
	}
	holderNS := netutil.NamespaceName(link.Endpoints[0].Router)
	if err := e.backend.CreateBridge(holderNS, link.BridgeName); err != nil {
		return err
	}
	if err := e.backend.SetLinkUp(holderNS, link.BridgeName); err != nil {
		return err
	}

	for _, ep := range link.Endpoints {
		ns := netutil.NamespaceName(ep.Router)
		vethHost := netutil.VethPeerName(ep.Router, "br", ep.Interface)
		vethBridge := netutil.VethPeerName("br", ep.Router, ep.Interface)
		if err := e.backend.CreateVethPair(vethHost, vethBridge); err != nil {
			return err
		}
		if err := e.backend.MoveToNamespace(vethHost, ns); err != nil {
			return err
		}
		if ns != holderNS {
			if err := e.backend.MoveToNamespace(vethBridge, holderNS); err != nil {
				return err
			}
		}
		if err := e.backend.AttachToBridge(holderNS, vethBridge, link.BridgeName); err != nil {
			return err
		}
		if err := e.backend.SetLinkUp(holderNS, vethBridge); err != nil {
			return err
		}
		if err := e.configureEndpoint(ns, vethHost, ep); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyFirewallState(r topology.Router) error {
	ns := netutil.NamespaceName(r.Hostname)
	dump, err := renderIPTablesRestore(r.IPTables)
	if err != nil {
		return err
	}
	if len(dump) > 0 {
		if err := e.backend.ApplyIPTablesRestore(ns, dump); err != nil {
			return err
		}
	}
	if len(r.IPSets) > 0 {
		setDump := renderIPSetRestore(r.IPSets)
		if err := e.backend.ApplyIPSetRestore(ns, setDump); err != nil {
			return err
		}
	}
	for _, rule := range r.Rules {
		if rule.From == "" {
			continue
		}
		_, cidr, err := net.ParseCIDR(rule.From)
		if err != nil {
			continue
		}
		if err := e.backend.AddRule(ns, RuleSpec{Priority: rule.Priority, From: cidr, Table: tableID(rule.Table)}); err != nil {
			return err
		}
	}
	return nil
}

// installRoutes installs every non-kernel route declared on r, honoring
// metric order (spec §4.C step 3): kernel-derived routes already exist once
// an interface carries an address, so only the router's own static and
// policy-table routes need an explicit AddRoute call.
func (e *Engine) installRoutes(r topology.Router) error {
	ns := netutil.NamespaceName(r.Hostname)

	routes := make([]topology.Route, 0, len(r.Routes))
	for _, rt := range r.Routes {
		if rt.IsKernel() {
			continue
		}
		routes = append(routes, rt)
	}
	sort.SliceStable(routes, func(i, j int) bool { return routes[i].Metric < routes[j].Metric })

	for _, rt := range routes {
		dst := rt.Dst
		if dst == "" || dst == "default" {
			dst = "0.0.0.0/0"
		}
		_, cidr, err := net.ParseCIDR(dst)
		if err != nil {
			return errs.Wrapf(err, errs.KindSetupPartial, "parsing route destination %q on %s", rt.Dst, r.Hostname)
		}
		var gw net.IP
		if rt.Gateway != "" {
			gw = net.ParseIP(rt.Gateway)
			if gw == nil {
				return errs.Errorf(errs.KindSetupPartial, "invalid gateway %q on %s", rt.Gateway, r.Hostname)
			}
		}
		spec := RouteSpec{Dst: cidr, Gateway: gw, Dev: rt.Dev, Table: tableID(rt.Table), Metric: rt.Metric}
		if err := e.backend.AddRoute(ns, spec); err != nil {
			return errs.Wrapf(err, errs.KindSetupPartial, "installing route %s on %s", rt.Dst, r.Hostname)
		}
	}
	return nil
}

// ifaceAddrDump mirrors the addr_info shape `ip -j addr show` emits, which
// LinuxBackend.DumpInterfaces returns verbatim.
type ifaceAddrDump struct {
	IfName   string `json:"ifname"`
	AddrInfo []struct {
		Family    string `json:"family"`
		Local     string `json:"local"`
		PrefixLen int    `json:"prefixlen"`
	} `json:"addr_info"`
}

// verify performs the post-setup verification pass (spec §4.C step 4): every
// router namespace must exist, answer an interface query, and carry every
// address the topology declares on exactly one interface — a missing or
// duplicated address is an error, not a warning.
func (e *Engine) verify(topo *topology.Topology) error {
	for _, r := range topo.Routers {
		ns := netutil.NamespaceName(r.Hostname)
		if !e.backend.NamespaceExists(ns) {
			return errs.Errorf(errs.KindSetupPartial, "namespace %s missing after setup", ns)
		}
		raw, err := e.backend.DumpInterfaces(ns)
		if err != nil {
			return errs.Wrapf(err, errs.KindSetupPartial, "verifying namespace %s", ns)
		}

		var dumped []ifaceAddrDump
		if err := json.Unmarshal(raw, &dumped); err != nil {
			return errs.Wrapf(err, errs.KindSetupPartial, "parsing interface dump for %s", ns)
		}
		present := make(map[string]int, len(dumped))
		for _, d := range dumped {
			for _, a := range d.AddrInfo {
				if a.Family != "inet" {
					continue
				}
				present[d.IfName+"|"+a.Local+"/"+strconv.Itoa(a.PrefixLen)]++
			}
		}

		for _, iface := range r.Interfaces {
			for _, addr := range iface.Addrs {
				if addr.Family != "inet" {
					continue
				}
				sysName, ok := SystemInterfaceName(topo, r.Hostname, iface.Name)
				if !ok {
					sysName = iface.Name
				}
				key := sysName + "|" + addr.Address + "/" + strconv.Itoa(addr.PrefixLen)
				if present[key] != 1 {
					return errs.Errorf(errs.KindSetupPartial,
						"address %s/%d missing on %s/%s after setup (found %d matches)",
						addr.Address, addr.PrefixLen, r.Hostname, iface.Name, present[key])
				}
			}
		}
	}
	return nil
}

// TeardownScope selects what Teardown removes (spec §4.C).
type TeardownScope string

const (
	ScopeAll         TeardownScope = "all"
	ScopeRouter      TeardownScope = "router"
	ScopeHostsOnly   TeardownScope = "hosts-only"
	ScopeWSGICreated TeardownScope = "wsgi-created"
)

// TeardownHost is a dynamically attached host considered for a host-scoped
// teardown, carrying the registry's CreatorTag so ScopeWSGICreated can
// filter on it.
type TeardownHost struct {
	Name       string
	CreatorTag string
}

// TeardownParams selects a Teardown call's scope. Routers is the full router
// set (used by ScopeAll); Router is the single router named by "router=X"
// (ScopeRouter); Hosts are the dynamically attached hosts known to the
// registry, consulted by ScopeHostsOnly and ScopeWSGICreated.
type TeardownParams struct {
	Scope   TeardownScope
	Router  string
	Routers []string
	Hosts   []TeardownHost
}

// TeardownReport summarizes a teardown run.
type TeardownReport struct {
	Removed []string
	Errors  []string
}

// Teardown deletes the namespaces p.Scope selects. Errors for individual
// namespaces are collected rather than aborting the whole run, so one stuck
// namespace does not block cleanup of the rest.
func (e *Engine) Teardown(p TeardownParams) *TeardownReport {
	report := &TeardownReport{}

	remove := func(name, ns string) {
		if err := e.backend.DeleteNamespace(ns); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, err))
			return
		}
		report.Removed = append(report.Removed, name)
	}

	switch p.Scope {
	case ScopeRouter:
		remove(p.Router, netutil.NamespaceName(p.Router))
	case ScopeHostsOnly:
		for _, h := range p.Hosts {
			remove(h.Name, netutil.HostNamespaceName(h.Name))
		}
	case ScopeWSGICreated:
		for _, h := range p.Hosts {
			if !strings.HasPrefix(h.CreatorTag, "wsgi:") {
				continue
			}
			remove(h.Name, netutil.HostNamespaceName(h.Name))
		}
	default: // ScopeAll and the empty scope both tear down everything.
		for _, r := range p.Routers {
			remove(r, netutil.NamespaceName(r))
		}
		for _, h := range p.Hosts {
			remove(h.Name, netutil.HostNamespaceName(h.Name))
		}
	}
	return report
}

func tableID(name string) int {
	switch name {
	case "main", "":
		return 254
	case "local":
		return 255
	case "default":
		return 253
	default:
		return 254
	}
}
