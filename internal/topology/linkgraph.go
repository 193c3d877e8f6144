// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package topology

import (
	"fmt"
	"net"
	"sort"
)

// BuildLinkGraph groups router interfaces by shared IPv4 subnet and classifies
// each group per spec §4.C step 1: exactly two endpoints is point-to-point,
// one endpoint is an access subnet, three or more is a bridge. Loopback
// addresses are ignored, matching the Fact Loader's own rule (spec §4.A).
func BuildLinkGraph(routers []Router) ([]Link, error) {
	type member struct {
		router, iface, addr string
		prefixLen           int
	}
	bySubnet := make(map[string][]member)
	var order []string

	for _, r := range routers {
		for _, iface := range r.Interfaces {
			for _, a := range iface.Addrs {
				if a.Family != "inet" {
					continue
				}
				ip := net.ParseIP(a.Address)
				if ip == nil || ip.IsLoopback() {
					continue
				}
				_, subnet, err := net.ParseCIDR(fmt.Sprintf("%s/%d", a.Address, a.PrefixLen))
				if err != nil {
					return nil, fmt.Errorf("router %s interface %s: invalid address %s/%d: %w",
						r.Hostname, iface.Name, a.Address, a.PrefixLen, err)
				}
				key := subnet.String()
				if _, seen := bySubnet[key]; !seen {
					order = append(order, key)
				}
				bySubnet[key] = append(bySubnet[key], member{
					router: r.Hostname, iface: iface.Name, addr: a.Address, prefixLen: a.PrefixLen,
				})
			}
		}
	}
	sort.Strings(order)

	var links []Link
	id := 0
	for _, subnet := range order {
		members := bySubnet[subnet]
		endpoints := make([]LinkEndpoint, 0, len(members))
		for _, m := range members {
			endpoints = append(endpoints, LinkEndpoint{
				Router: m.router, Interface: m.iface, Address: m.addr, PrefixLen: m.prefixLen,
			})
		}

		var kind LinkKind
		var bridgeName string
		switch {
		case len(endpoints) == 2:
			kind = LinkKindP2P
		case len(endpoints) == 1:
			kind = LinkKindAccess
		default:
			kind = LinkKindBridge
			bridgeName = bridgeNameFor(subnet)
		}

		links = append(links, Link{
			ID: id, Subnet: subnet, Kind: kind, Endpoints: endpoints, BridgeName: bridgeName,
		})
		id++
	}
	return links, nil
}

// bridgeNameFor derives the "br-<subnet>" name used for 3+-router subnets,
// truncated to fit Linux's 15-character IFNAMSIZ limit.
func bridgeNameFor(subnet string) string {
	name := "br-" + sanitizeForIfname(subnet)
	if len(name) > 15 {
		name = name[:15]
	}
	return name
}

func sanitizeForIfname(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			out = append(out, c)
		default:
			// drop '.', '/', ':' separators to pack more signal into 15 chars
		}
	}
	return string(out)
}
