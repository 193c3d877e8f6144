// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reachability

import (
	"net"
	"strconv"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/topology"
)

// Hop is one router a probe traverses, with the interfaces it entered and
// left through (empty OutInterface means the destination is local to Router).
type Hop struct {
	Router       string
	InInterface  string
	OutInterface string
}

// PathResult is the outcome of computing a path from a source router to a
// destination IP, per spec §4.E phase 2 ("compute path").
type PathResult struct {
	Hops      []Hop
	Blackhole bool // no route found at some hop
	Loop      bool // a router was visited twice
}

// maxHops bounds path computation so a genuine routing loop terminates
// instead of iterating forever; topologies larger than this are out of
// tsim's scope (spec §3's data model assumes a reasonably small lab).
const maxHops = 64

// ComputePath walks the routing tables from srcRouter toward dstIP, one
// router at a time, using longest-prefix-match route selection. It stops
// when dstIP falls within a directly connected interface's subnet (arrival),
// when a router offers no matching route (blackhole), or when a router
// reappears in the path (loop) — spec §4.E's path computation invariants.
func ComputePath(topo *topology.Topology, srcRouter, dstIP string) (*PathResult, error) {
	ip := net.ParseIP(dstIP)
	if ip == nil {
		return nil, errs.Errorf(errs.KindValidation, "invalid destination address %q", dstIP)
	}

	result := &PathResult{}
	visited := map[string]bool{}
	current := srcRouter
	inIface := ""

	for i := 0; i < maxHops; i++ {
		if visited[current] {
			result.Loop = true
			return result, nil
		}
		visited[current] = true

		router, ok := topo.RouterByName(current)
		if !ok {
			result.Blackhole = true
			return result, nil
		}

		if iface, ok := localInterfaceFor(*router, ip); ok {
			result.Hops = append(result.Hops, Hop{Router: current, InInterface: inIface, OutInterface: iface})
			return result, nil
		}

		route, ok := bestRoute(*router, ip)
		if !ok {
			result.Blackhole = true
			result.Hops = append(result.Hops, Hop{Router: current, InInterface: inIface})
			return result, nil
		}
		result.Hops = append(result.Hops, Hop{Router: current, InInterface: inIface, OutInterface: route.Dev})

		if route.Gateway == "" {
			// On-link route with no further router hop known to the topology.
			return result, nil
		}
		next, ok := nextHopRouter(topo, route.Gateway)
		if !ok {
			return result, nil
		}
		current = next
		inIface = ""
	}

	result.Loop = true
	return result, nil
}

func localInterfaceFor(r topology.Router, ip net.IP) (string, bool) {
	for _, iface := range r.Interfaces {
		for _, addr := range iface.Addrs {
			if addr.Family != "inet" {
				continue
			}
			_, cidr, err := net.ParseCIDR(addr.Address + "/" + strconv.Itoa(addr.PrefixLen))
			if err != nil {
				continue
			}
			if cidr.Contains(ip) {
				return iface.Name, true
			}
		}
	}
	return "", false
}

// findAccessSubnet locates a router interface whose declared subnet
// contains ip, without requiring ip to be that interface's own address —
// used to place an off-subnet probe endpoint onto the access link it
// belongs to (spec §4.E phase 1).
func findAccessSubnet(topo *topology.Topology, ip net.IP) (router, iface string, prefixLen int, ok bool) {
	for _, r := range topo.Routers {
		for _, i := range r.Interfaces {
			for _, a := range i.Addrs {
				if a.Family != "inet" {
					continue
				}
				_, cidr, err := net.ParseCIDR(a.Address + "/" + strconv.Itoa(a.PrefixLen))
				if err != nil {
					continue
				}
				if cidr.Contains(ip) {
					return r.Hostname, i.Name, a.PrefixLen, true
				}
			}
		}
	}
	return "", "", 0, false
}

// bestRoute picks the longest-prefix-matching route for ip, preferring
// smaller (more specific) subnets and, among equal prefixes, lower metric.
func bestRoute(r topology.Router, ip net.IP) (topology.Route, bool) {
	var best topology.Route
	bestLen := -1
	found := false

	for _, route := range r.Routes {
		var cidr *net.IPNet
		var err error
		if route.Dst == "default" || route.Dst == "0.0.0.0/0" {
			_, cidr, err = net.ParseCIDR("0.0.0.0/0")
		} else {
			_, cidr, err = net.ParseCIDR(route.Dst)
		}
		if err != nil || cidr == nil || !cidr.Contains(ip) {
			continue
		}
		ones, _ := cidr.Mask.Size()
		if ones > bestLen || (ones == bestLen && route.Metric < best.Metric) {
			best = route
			bestLen = ones
			found = true
		}
	}
	return best, found
}

// nextHopRouter finds which router owns gateway as one of its own addresses.
func nextHopRouter(topo *topology.Topology, gateway string) (string, bool) {
	if net.ParseIP(gateway) == nil {
		return "", false
	}
	for _, r := range topo.Routers {
		for _, iface := range r.Interfaces {
			for _, addr := range iface.Addrs {
				if addr.Address == gateway {
					return r.Hostname, true
				}
			}
		}
	}
	return "", false
}
