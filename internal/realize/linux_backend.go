// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package realize

import (
	"context"
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/execpool"
	"tsim.dev/tsim/internal/nsops"
)

// LinuxBackend realizes namespaces for real, using netlink/netns directly
// for structured operations and a bounded subprocess pool for the tools that
// only speak their own wire format (spec §9).
type LinuxBackend struct {
	pool *execpool.Pool
}

// NewLinuxBackend creates a backend whose subprocess calls run through pool.
func NewLinuxBackend(pool *execpool.Pool) *LinuxBackend {
	return &LinuxBackend{pool: pool}
}

func (b *LinuxBackend) NamespaceExists(name string) bool {
	h, err := netns.GetFromName(name)
	if err != nil {
		return false
	}
	h.Close()
	return true
}

func (b *LinuxBackend) CreateNamespace(name string) error { return nsops.CreateNamespace(name) }
func (b *LinuxBackend) DeleteNamespace(name string) error { return nsops.DeleteNamespace(name) }

func (b *LinuxBackend) CreateVethPair(a, bName string) error { return nsops.CreateVethPair(a, bName) }

func (b *LinuxBackend) MoveToNamespace(link, ns string) error {
	return nsops.MoveToNamespace(link, ns)
}

func (b *LinuxBackend) SetLinkUp(ns, link string) error {
	return nsops.WithNamespace(ns, func(nlh *netlink.Handle) error {
		return nsops.SetLinkUp(nlh, link)
	})
}

func (b *LinuxBackend) AddAddress(ns, link string, addr *net.IPNet) error {
	return nsops.WithNamespace(ns, func(nlh *netlink.Handle) error {
		return nsops.AddAddress(nlh, link, addr)
	})
}

func (b *LinuxBackend) CreateBridge(ns, name string) error {
	return nsops.WithNamespace(ns, func(nlh *netlink.Handle) error {
		return nsops.CreateBridge(nlh, name)
	})
}

func (b *LinuxBackend) AttachToBridge(ns, link, bridge string) error {
	return nsops.WithNamespace(ns, func(nlh *netlink.Handle) error {
		return nsops.SetMaster(nlh, link, bridge)
	})
}

func (b *LinuxBackend) AddRoute(ns string, r RouteSpec) error {
	return nsops.WithNamespace(ns, func(nlh *netlink.Handle) error {
		link, err := nlh.LinkByName(r.Dev)
		if err != nil {
			return errs.Wrapf(err, errs.KindNamespaceOp, "looking up route device %s", r.Dev)
		}
		return nsops.AddRoute(nlh, &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Dst:       r.Dst,
			Gw:        r.Gateway,
			Table:     r.Table,
			Priority:  r.Metric,
		})
	})
}

func (b *LinuxBackend) AddRule(ns string, r RuleSpec) error {
	return nsops.WithNamespace(ns, func(nlh *netlink.Handle) error {
		rule := netlink.NewRule()
		rule.Priority = r.Priority
		rule.Src = r.From
		rule.Table = r.Table
		return nsops.AddRule(nlh, rule)
	})
}

func (b *LinuxBackend) ApplyIPTablesRestore(ns string, dump []byte) error {
	_, err := b.pool.Run(context.Background(), execpool.Task{
		Label: ns + ": iptables-restore",
		Name:  "nsenter",
		Args:  []string{"--net=/var/run/netns/" + ns, "iptables-restore"},
		Stdin: dump,
	})
	return err
}

func (b *LinuxBackend) ApplyIPSetRestore(ns string, dump []byte) error {
	_, err := b.pool.Run(context.Background(), execpool.Task{
		Label: ns + ": ipset restore",
		Name:  "nsenter",
		Args:  []string{"--net=/var/run/netns/" + ns, "ipset", "restore"},
		Stdin: dump,
	})
	return err
}

func (b *LinuxBackend) DumpInterfaces(ns string) ([]byte, error) {
	res, err := b.pool.Run(context.Background(), execpool.Task{
		Label: ns + ": ip -j addr",
		Name:  "nsenter",
		Args:  []string{"--net=/var/run/netns/" + ns, "ip", "-j", "addr", "show"},
	})
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

func (b *LinuxBackend) DumpRoutes(ns string) ([]byte, error) {
	res, err := b.pool.Run(context.Background(), execpool.Task{
		Label: ns + ": ip -j route",
		Name:  "nsenter",
		Args:  []string{"--net=/var/run/netns/" + ns, "ip", "-j", "route", "show", "table", "all"},
	})
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

func (b *LinuxBackend) IPTablesSave(ns string) ([]byte, error) {
	res, err := b.pool.Run(context.Background(), execpool.Task{
		Label: ns + ": iptables-save",
		Name:  "nsenter",
		Args:  []string{"--net=/var/run/netns/" + ns, "iptables-save"},
	})
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}
