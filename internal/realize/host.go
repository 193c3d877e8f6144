// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package realize

import (
	"net"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/netutil"
	"tsim.dev/tsim/internal/topology"
)

// HostSpec describes a dynamically attached test host (spec §4.C AddHost).
type HostSpec struct {
	Name             string
	PrimaryAddress   string
	PrefixLen        int
	ConnectedRouter  string
	ConnectedIface   string
	CreatorTag       string
}

// AddHost creates a host namespace, wires it to the router's interface with
// a veth pair, assigns its address, and installs a default route via the
// router's address on that subnet (spec §4.C). The caller is responsible for
// registry bookkeeping (host lease refcounting, spec §3) — this method only
// performs the namespace-level realization.
func (e *Engine) AddHost(topo *topology.Topology, spec HostSpec) (topology.Host, error) {
	hostNS := netutil.HostNamespaceName(spec.Name)
	routerNS := netutil.NamespaceName(spec.ConnectedRouter)

	if !e.backend.NamespaceExists(hostNS) {
		if err := e.backend.CreateNamespace(hostNS); err != nil {
			return topology.Host{}, errs.Wrapf(err, errs.KindSetupPartial, "creating host namespace for %s", spec.Name)
		}
	}

	vethHost := netutil.HostVethName(spec.Name, spec.ConnectedIface)
	vethRouter := netutil.VethPeerName(spec.ConnectedRouter, spec.Name, spec.ConnectedIface)

	if err := e.backend.CreateVethPair(vethHost, vethRouter); err != nil {
		return topology.Host{}, err
	}
	if err := e.backend.MoveToNamespace(vethHost, hostNS); err != nil {
		return topology.Host{}, err
	}
	if err := e.backend.MoveToNamespace(vethRouter, routerNS); err != nil {
		return topology.Host{}, err
	}
	if err := e.backend.SetLinkUp(routerNS, vethRouter); err != nil {
		return topology.Host{}, err
	}
	if err := e.backend.SetLinkUp(hostNS, vethHost); err != nil {
		return topology.Host{}, err
	}

	ip := net.ParseIP(spec.PrimaryAddress)
	if ip == nil {
		return topology.Host{}, errs.Errorf(errs.KindValidation, "invalid host address %q", spec.PrimaryAddress)
	}
	ipnet := &net.IPNet{IP: ip, Mask: net.CIDRMask(spec.PrefixLen, 32)}
	if err := e.backend.AddAddress(hostNS, vethHost, ipnet); err != nil {
		return topology.Host{}, err
	}

	gateway, err := routerInterfaceAddress(topo, spec.ConnectedRouter, spec.ConnectedIface)
	if err != nil {
		return topology.Host{}, err
	}
	_, defaultDst, _ := net.ParseCIDR("0.0.0.0/0")
	if err := e.backend.AddRoute(hostNS, RouteSpec{Dst: defaultDst, Gateway: gateway, Dev: vethHost, Table: tableID(""), Metric: 0}); err != nil {
		return topology.Host{}, err
	}

	return topology.Host{
		Name:                spec.Name,
		PrimaryAddress:      spec.PrimaryAddress,
		ConnectedRouter:     spec.ConnectedRouter,
		ConnectedInterface:  spec.ConnectedIface,
		CreatorTag:          spec.CreatorTag,
	}, nil
}

// RemoveHost deletes the host namespace. Idempotent: removing an
// already-absent host is not an error.
func (e *Engine) RemoveHost(name string) error {
	return e.backend.DeleteNamespace(netutil.HostNamespaceName(name))
}

// routerInterfaceAddress returns the address router has on iface, the
// gateway a dynamically attached host on that link routes through.
func routerInterfaceAddress(topo *topology.Topology, router, iface string) (net.IP, error) {
	r, ok := topo.RouterByName(router)
	if !ok {
		return nil, errs.Errorf(errs.KindValidation, "router %q not found in topology", router)
	}
	ifc, ok := r.InterfaceByName(iface)
	if !ok {
		return nil, errs.Errorf(errs.KindValidation, "interface %q not found on router %q", iface, router)
	}
	for _, a := range ifc.Addrs {
		if a.Family != "inet" {
			continue
		}
		if ip := net.ParseIP(a.Address); ip != nil {
			return ip, nil
		}
	}
	return nil, errs.Errorf(errs.KindValidation, "router %q interface %q has no address", router, iface)
}
