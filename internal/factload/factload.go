// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package factload parses per-router fact documents into the normalized
// topology record (spec §4.A). Two wire forms are accepted: compact or
// pretty-printed JSON (the canonical storage format), and an older
// line-delimited raw form with `=== TSIM_SECTION_START:<name> ===` markers
// (spec §6), produced by a separate loader that emits the identical schema.
package factload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/topology"
)

// LoadWarning is a non-fatal issue found while loading a fact document.
type LoadWarning struct {
	Hostname string
	Message  string
}

func (w LoadWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Hostname, w.Message)
}

// LoadTopology reads every fact document in dir (one file per router),
// normalizes it into a topology.Router, and infers the link graph.
// Warnings never block the load. An unreadable directory or file, invalid
// JSON, a document lacking a hostname or containing duplicate interface
// names, or an invalid interface address aborts with errs.KindFactInvalid.
func LoadTopology(dir string) (*topology.Topology, []LoadWarning, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errs.Wrapf(err, errs.KindFactInvalid, "reading facts dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var routers []topology.Router
	var warnings []LoadWarning
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, errs.Wrapf(err, errs.KindFactInvalid, "reading %s", name)
		}
		router, warns, err := ParseDocument(data)
		if err != nil {
			return nil, nil, errs.Attr(err, "file", name)
		}
		routers = append(routers, *router)
		warnings = append(warnings, warns...)
	}

	links, err := topology.BuildLinkGraph(routers)
	if err != nil {
		return nil, nil, errs.Wrap(err, errs.KindFactInvalid, "building link graph")
	}

	return &topology.Topology{Routers: routers, Links: links}, warnings, nil
}

// rawDocument mirrors the JSON schema before normalization, so optional
// sections can be told apart from "present but empty".
type rawDocument struct {
	Hostname   string               `json:"hostname"`
	Interfaces []topology.Interface `json:"interfaces"`
	Routes     []topology.Route     `json:"routes"`
	Rules      []topology.Rule      `json:"rules"`
	IPTables   topology.IPTablesDump `json:"iptables"`
	IPSets     []topology.IPSet     `json:"ipsets"`
	Metadata   topology.Metadata    `json:"metadata"`
}

// ParseDocument normalizes one fact document (JSON form) into a Router.
func ParseDocument(data []byte) (*topology.Router, []LoadWarning, error) {
	var raw rawDocument
	var extra map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, errs.Wrap(err, errs.KindFactInvalid, "invalid JSON fact document")
	}
	_ = json.Unmarshal(data, &extra) // best-effort capture of unknown top-level keys

	if raw.Hostname == "" {
		return nil, nil, errs.New(errs.KindFactInvalid, "fact document missing hostname")
	}

	seen := make(map[string]bool, len(raw.Interfaces))
	for _, iface := range raw.Interfaces {
		if seen[iface.Name] {
			return nil, nil, errs.Errorf(errs.KindFactInvalid,
				"duplicate interface name %q for host %s", iface.Name, raw.Hostname)
		}
		seen[iface.Name] = true
	}

	router := &topology.Router{
		Hostname: raw.Hostname,
		Routes:   raw.Routes,
		Rules:    raw.Rules,
		IPTables: raw.IPTables,
		IPSets:   raw.IPSets,
		Metadata: raw.Metadata,
		Extra:    knownKeysRemoved(extra),
	}

	var warnings []LoadWarning
	if len(raw.Interfaces) > 0 {
		router.Interfaces = raw.Interfaces
	} else {
		reconstructed, warns := reconstructInterfacesFromRoutes(raw.Routes)
		router.Interfaces = reconstructed
		for _, w := range warns {
			warnings = append(warnings, LoadWarning{Hostname: raw.Hostname, Message: w})
		}
	}

	if err := validateReferentialIntegrity(router); err != nil {
		warnings = append(warnings, LoadWarning{Hostname: raw.Hostname, Message: err.Error()})
	}

	return router, warnings, nil
}

var knownTopLevelKeys = map[string]bool{
	"hostname": true, "interfaces": true, "routes": true, "rules": true,
	"iptables": true, "ipsets": true, "metadata": true,
}

func knownKeysRemoved(m map[string]json.RawMessage) map[string]json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage)
	for k, v := range m {
		if !knownTopLevelKeys[k] {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// reconstructInterfacesFromRoutes rebuilds the interface list when the fact
// document omits it, by grouping kernel-scope-link routes with a prefsrc by
// device, per spec §4.A. Loopback addresses are ignored.
func reconstructInterfacesFromRoutes(routes []topology.Route) ([]topology.Interface, []string) {
	byDev := make(map[string]*topology.Interface)
	var order []string
	var warnings []string

	for _, r := range routes {
		if r.Protocol != "kernel" || r.Scope != "link" || r.PrefSrc == "" || r.Dev == "" {
			continue
		}
		if strings.HasPrefix(r.PrefSrc, "127.") || r.PrefSrc == "::1" {
			continue
		}
		iface, ok := byDev[r.Dev]
		if !ok {
			iface = &topology.Interface{Name: r.Dev}
			byDev[r.Dev] = iface
			order = append(order, r.Dev)
		}
		prefixLen := prefixLenFromCIDR(r.Dst)
		iface.Addrs = append(iface.Addrs, topology.Address{
			Family: "inet", Address: r.PrefSrc, PrefixLen: prefixLen, Scope: "global",
		})
	}

	if len(order) == 0 {
		warnings = append(warnings, "no interfaces declared and none could be reconstructed from kernel routes")
	}

	sort.Strings(order)
	out := make([]topology.Interface, 0, len(order))
	for _, dev := range order {
		out = append(out, *byDev[dev])
	}
	return out, warnings
}

func prefixLenFromCIDR(dst string) int {
	if idx := strings.IndexByte(dst, '/'); idx >= 0 {
		var n int
		fmt.Sscanf(dst[idx+1:], "%d", &n)
		return n
	}
	return 32
}

// validateReferentialIntegrity checks the ipset `list:set` referential
// integrity left as a warning-not-error per spec §9's open question.
func validateReferentialIntegrity(r *topology.Router) error {
	names := make(map[string]bool, len(r.IPSets))
	for _, s := range r.IPSets {
		names[s.Name] = true
	}
	for _, s := range r.IPSets {
		if s.Type != "list:set" {
			continue
		}
		for _, m := range s.Members {
			if !names[m] {
				return fmt.Errorf("ipset %s (list:set) references unknown set %q", s.Name, m)
			}
		}
	}
	return nil
}
