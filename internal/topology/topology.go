// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package topology holds the normalized data model shared by the Fact
// Loader, the Topology Realization Engine, and the Status Collector
// (spec §3). Unknown fact-document sections are preserved verbatim in
// Extra rather than dropped, per spec §9's "Dynamic attribute access"
// re-architecture note.
package topology

import "encoding/json"

// Address is one family/address/prefix/scope tuple on an interface.
type Address struct {
	Family    string `json:"family"` // "inet" or "inet6"
	Address   string `json:"address"`
	PrefixLen int    `json:"prefixlen"`
	Scope     string `json:"scope,omitempty"`
}

// Interface is one declared network interface on a router.
type Interface struct {
	Name     string    `json:"name"`
	LinkType string    `json:"link_type,omitempty"`
	MAC      string    `json:"mac,omitempty"`
	MTU      int       `json:"mtu,omitempty"`
	Flags    []string  `json:"flags,omitempty"`
	State    string    `json:"state,omitempty"`
	Addrs    []Address `json:"addresses,omitempty"`
}

// Route is one routing table entry. Dst is a CIDR string or the literal "default".
type Route struct {
	Table    string `json:"table,omitempty"`
	Dst      string `json:"dst"`
	Gateway  string `json:"gateway,omitempty"`
	Dev      string `json:"dev,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Scope    string `json:"scope,omitempty"`
	PrefSrc  string `json:"prefsrc,omitempty"`
	Metric   int    `json:"metric,omitempty"`
}

// IsKernel reports whether this route was installed by the kernel itself
// (as opposed to a declared static/policy route) per spec §4.A.
func (r Route) IsKernel() bool { return r.Protocol == "kernel" }

// Rule is one `ip rule` policy-routing entry. From is a CIDR or the literal "all".
type Rule struct {
	Priority int    `json:"priority"`
	From     string `json:"from"`
	Table    string `json:"table"`
}

// IPTablesDump is the full rule dump across tables, as collected by
// `iptables-save` (one dump per address family is out of scope; tsim
// models IPv4 filter/nat/mangle/raw, matching the fact format in spec §3).
type IPTablesDump struct {
	Tables map[string]IPTable `json:"tables"`
}

// IPTable holds one table's chain policies and rule lines verbatim, as
// iptables-save/iptables-restore would produce/consume them.
type IPTable struct {
	Policies map[string]string `json:"policies,omitempty"` // chain -> ACCEPT/DROP/...
	Rules    []string          `json:"rules,omitempty"`    // "-A FORWARD -p tcp --dport 80 -j DROP"
}

// IPSet is one named set, matching the `ipset save` grammar.
type IPSet struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"` // e.g. "hash:ip", "hash:net", "list:set"
	CreateOptions string   `json:"create_options,omitempty"`
	Members       []string `json:"members,omitempty"`
}

// Metadata carries collection provenance.
type Metadata struct {
	SectionsAvailable  []string `json:"sections_available,omitempty"`
	CollectionTimestamp string  `json:"collection_timestamp,omitempty"`
}

// Router is one device's normalized fact record (spec §3).
type Router struct {
	Hostname   string                     `json:"hostname"`
	Interfaces []Interface                `json:"interfaces"`
	Routes     []Route                    `json:"routes"`
	Rules      []Rule                     `json:"rules,omitempty"`
	IPTables   IPTablesDump               `json:"iptables"`
	IPSets     []IPSet                    `json:"ipsets,omitempty"`
	Metadata   Metadata                   `json:"metadata,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// InterfaceByName looks up a declared interface by name.
func (r *Router) InterfaceByName(name string) (*Interface, bool) {
	for i := range r.Interfaces {
		if r.Interfaces[i].Name == name {
			return &r.Interfaces[i], true
		}
	}
	return nil, false
}

// LinkKind classifies an inferred link's shape (spec §4.C step 1).
type LinkKind string

const (
	LinkKindP2P    LinkKind = "point-to-point" // exactly two router interfaces share a subnet
	LinkKindAccess LinkKind = "access"         // one router interface; remainder is host-joinable
	LinkKindBridge LinkKind = "bridge"         // three or more router interfaces share a subnet
)

// LinkEndpoint identifies one (router, interface) side of a Link.
type LinkEndpoint struct {
	Router    string
	Interface string
	Address   string // the interface's address on this subnet
	PrefixLen int
}

// Link is a first-class subnet-inferred edge, owned by the Topology and
// referenced by stable integer ID — never by router<->router back-pointer,
// per spec §9's "Cyclic references" re-architecture note.
type Link struct {
	ID        int
	Subnet    string // CIDR of the shared subnet, e.g. "10.1.2.0/24"
	Kind      LinkKind
	Endpoints []LinkEndpoint
	// BridgeName is set only when Kind == LinkKindBridge: "br-<subnet>".
	BridgeName string
}

// Topology is the derived topology record: routers plus the inferred link graph.
type Topology struct {
	Routers []Router
	Links   []Link
}

// RouterByName looks up a router by hostname.
func (t *Topology) RouterByName(name string) (*Router, bool) {
	for i := range t.Routers {
		if t.Routers[i].Hostname == name {
			return &t.Routers[i], true
		}
	}
	return nil, false
}

// RouterNames returns every router's hostname.
func (t *Topology) RouterNames() []string {
	names := make([]string, len(t.Routers))
	for i, r := range t.Routers {
		names[i] = r.Hostname
	}
	return names
}

// LinkFor returns the Link containing the given (router, interface) endpoint, if any.
func (t *Topology) LinkFor(router, iface string) (*Link, bool) {
	for i := range t.Links {
		for _, ep := range t.Links[i].Endpoints {
			if ep.Router == router && ep.Interface == iface {
				return &t.Links[i], true
			}
		}
	}
	return nil, false
}

// Host is a dynamic endpoint attached to a router's access subnet (spec §3).
type Host struct {
	Name               string
	PrimaryAddress     string // CIDR
	SecondaryAddresses []string
	ConnectedRouter    string
	ConnectedInterface string
	CreatorTag         string // "<method>:<username>"
}
