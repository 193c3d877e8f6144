// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package realize implements the Topology Realization Engine (spec §4.C):
// translating a parsed topology into live Linux network namespaces, veth
// pairs, bridges, addresses, routes, rules, and firewall state, with
// verification and rollback on partial failure.
package realize

import "net"

// RouteSpec is a namespace-scoped route to install.
type RouteSpec struct {
	Dst      *net.IPNet
	Gateway  net.IP
	Dev      string
	Table    int
	Metric   int
}

// RuleSpec is a namespace-scoped policy routing rule to install.
type RuleSpec struct {
	Priority int
	From     *net.IPNet
	Table    int
}

// Backend is the seam between the Realization Engine's orchestration logic
// and the actual kernel operations, mirroring the reference implementation's
// split between its control-plane orchestration and its kernel provider
// (internal/kernel's Linux/sim split). LinuxBackend implements it over
// internal/nsops and internal/execpool; tests use an in-memory fake.
type Backend interface {
	NamespaceExists(name string) bool
	CreateNamespace(name string) error
	DeleteNamespace(name string) error

	CreateVethPair(a, b string) error
	MoveToNamespace(link, ns string) error
	SetLinkUp(ns, link string) error
	AddAddress(ns, link string, addr *net.IPNet) error
	CreateBridge(ns, name string) error
	AttachToBridge(ns, link, bridge string) error

	AddRoute(ns string, r RouteSpec) error
	AddRule(ns string, r RuleSpec) error

	ApplyIPTablesRestore(ns string, dump []byte) error
	ApplyIPSetRestore(ns string, dump []byte) error

	// DumpInterfaces, DumpRoutes and IPTablesSave back the verification pass
	// and the Status Collector's live queries.
	DumpInterfaces(ns string) ([]byte, error)
	DumpRoutes(ns string) ([]byte, error)
	IPTablesSave(ns string) ([]byte, error)
}
