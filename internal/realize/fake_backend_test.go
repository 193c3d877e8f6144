// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package realize

import (
	"encoding/json"
	"net"
	"strings"
)

// fakeBackend is an in-memory Backend used to exercise Engine's
// orchestration logic without a real kernel, the way the reference
// implementation's sim kernel provider stands in for LinuxKernel in tests.
type fakeBackend struct {
	namespaces map[string]bool
	links      map[string][]string // namespace -> link names present
	addrs      map[string][]string // "ns/link" -> addresses assigned
	bridges    map[string][]string // "ns/bridge" -> attached links
	iptables   map[string][]byte
	ipsets     map[string][]byte
	failCreateNamespace string // if set, CreateNamespace fails once this name is requested
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		namespaces: map[string]bool{},
		links:      map[string][]string{},
		addrs:      map[string][]string{},
		bridges:    map[string][]string{},
		iptables:   map[string][]byte{},
		ipsets:     map[string][]byte{},
	}
}

func (f *fakeBackend) NamespaceExists(name string) bool { return f.namespaces[name] }

func (f *fakeBackend) CreateNamespace(name string) error {
	if f.failCreateNamespace != "" && name == f.failCreateNamespace {
		return errFake("simulated namespace creation failure")
	}
	f.namespaces[name] = true
	return nil
}

func (f *fakeBackend) DeleteNamespace(name string) error {
	delete(f.namespaces, name)
	return nil
}

func (f *fakeBackend) CreateVethPair(a, b string) error { return nil }

func (f *fakeBackend) MoveToNamespace(link, ns string) error {
	f.links[ns] = append(f.links[ns], link)
	return nil
}

func (f *fakeBackend) SetLinkUp(ns, link string) error { return nil }

func (f *fakeBackend) AddAddress(ns, link string, addr *net.IPNet) error {
	key := ns + "/" + link
	f.addrs[key] = append(f.addrs[key], addr.String())
	return nil
}

func (f *fakeBackend) CreateBridge(ns, name string) error {
	f.bridges[ns+"/"+name] = nil
	return nil
}

func (f *fakeBackend) AttachToBridge(ns, link, bridge string) error {
	key := ns + "/" + bridge
	f.bridges[key] = append(f.bridges[key], link)
	return nil
}

func (f *fakeBackend) AddRoute(ns string, r RouteSpec) error { return nil }
func (f *fakeBackend) AddRule(ns string, r RuleSpec) error   { return nil }

func (f *fakeBackend) ApplyIPTablesRestore(ns string, dump []byte) error {
	f.iptables[ns] = dump
	return nil
}

func (f *fakeBackend) ApplyIPSetRestore(ns string, dump []byte) error {
	f.ipsets[ns] = dump
	return nil
}

// DumpInterfaces synthesizes the addr_info-shaped JSON `ip -j addr show`
// produces, from the addresses tracked by AddAddress, so Engine.verify's
// address-exactness check has something real to match against.
func (f *fakeBackend) DumpInterfaces(ns string) ([]byte, error) {
	type addrInfo struct {
		Family    string `json:"family"`
		Local     string `json:"local"`
		PrefixLen int    `json:"prefixlen"`
	}
	type ifaceDump struct {
		IfName   string     `json:"ifname"`
		Flags    []string   `json:"flags"`
		AddrInfo []addrInfo `json:"addr_info"`
	}

	prefix := ns + "/"
	out := []ifaceDump{}
	for key, addrs := range f.addrs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		d := ifaceDump{IfName: strings.TrimPrefix(key, prefix), Flags: []string{"UP"}}
		for _, a := range addrs {
			ip, ipnet, err := net.ParseCIDR(a)
			if err != nil {
				continue
			}
			size, _ := ipnet.Mask.Size()
			d.AddrInfo = append(d.AddrInfo, addrInfo{Family: "inet", Local: ip.String(), PrefixLen: size})
		}
		out = append(out, d)
	}
	return json.Marshal(out)
}
func (f *fakeBackend) DumpRoutes(ns string) ([]byte, error)     { return []byte("[]"), nil }
func (f *fakeBackend) IPTablesSave(ns string) ([]byte, error)   { return f.iptables[ns], nil }

type fakeErr string

func errFake(msg string) error { return fakeErr(msg) }
func (e fakeErr) Error() string { return string(e) }
