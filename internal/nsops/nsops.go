// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nsops performs the structured, in-namespace network operations the
// Realization Engine needs — namespace lifecycle, veth pairs, bridges,
// addresses, routes, and policy rules — directly through netlink and netns
// bindings rather than shelling out, the way the reference implementation's
// control plane talks to the kernel (see internal/ctlplane/network_manager.go
// in the reference tree this package is modeled on). Subprocess-only tools
// (iptables-save/restore, ipset) live in internal/execpool instead.
package nsops

import (
	"net"
	"os"
	"runtime"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"tsim.dev/tsim/internal/errs"
)

// CreateNamespace creates (or reuses) a named network namespace.
func CreateNamespace(name string) error {
	cur, err := netns.GetFromName(name)
	if err == nil {
		cur.Close()
		return nil
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return errs.Wrap(err, errs.KindNamespaceOp, "getting origin namespace")
	}
	defer origin.Close()
	defer netns.Set(origin)

	h, err := netns.NewNamed(name)
	if err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "creating namespace %s", name)
	}
	h.Close()
	return nil
}

// DeleteNamespace removes a named network namespace. Missing namespaces are
// not an error — teardown is idempotent.
func DeleteNamespace(name string) error {
	if err := netns.DeleteNamed(name); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrapf(err, errs.KindNamespaceOp, "deleting namespace %s", name)
	}
	return nil
}

// WithNamespace locks the calling goroutine's OS thread, switches into the
// named namespace, runs fn with a netlink.Handle bound to it, and always
// restores the original namespace before returning — the same
// lock-switch-restore pattern every netns-aware Go program uses, since netns
// is a per-thread kernel attribute.
func WithNamespace(name string, fn func(nlh *netlink.Handle) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return errs.Wrap(err, errs.KindNamespaceOp, "getting origin namespace")
	}
	defer origin.Close()
	defer netns.Set(origin)

	target, err := netns.GetFromName(name)
	if err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "opening namespace %s", name)
	}
	defer target.Close()

	if err := netns.Set(target); err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "entering namespace %s", name)
	}

	nlh, err := netlink.NewHandle()
	if err != nil {
		return errs.Wrap(err, errs.KindNamespaceOp, "creating netlink handle")
	}
	defer nlh.Close()

	return fn(nlh)
}

// CreateVethPair creates a veth pair in the root namespace, named nameA and
// nameB, both initially down.
func CreateVethPair(nameA, nameB string) error {
	la := netlink.NewLinkAttrs()
	la.Name = nameA
	veth := &netlink.Veth{LinkAttrs: la, PeerName: nameB}
	if err := netlink.LinkAdd(veth); err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "creating veth pair %s/%s", nameA, nameB)
	}
	return nil
}

// MoveToNamespace moves a root-namespace link into the named namespace.
func MoveToNamespace(linkName, nsName string) error {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "looking up link %s", linkName)
	}
	target, err := netns.GetFromName(nsName)
	if err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "opening namespace %s", nsName)
	}
	defer target.Close()

	if err := netlink.LinkSetNsFd(link, int(target)); err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "moving %s into namespace %s", linkName, nsName)
	}
	return nil
}

// SetLinkUp brings linkName up within the namespace nsh already has a handle
// bound to.
func SetLinkUp(nlh *netlink.Handle, linkName string) error {
	link, err := nlh.LinkByName(linkName)
	if err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "looking up link %s", linkName)
	}
	if err := nlh.LinkSetUp(link); err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "bringing up %s", linkName)
	}
	return nil
}

// AddAddress assigns an address to linkName within the bound namespace.
func AddAddress(nlh *netlink.Handle, linkName string, ipnet *net.IPNet) error {
	link, err := nlh.LinkByName(linkName)
	if err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "looking up link %s", linkName)
	}
	addr := &netlink.Addr{IPNet: ipnet}
	if err := nlh.AddrAdd(link, addr); err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "adding address %s to %s", ipnet, linkName)
	}
	return nil
}

// AddRoute installs a route within the bound namespace.
func AddRoute(nlh *netlink.Handle, route *netlink.Route) error {
	if err := nlh.RouteAdd(route); err != nil {
		return errs.Wrap(err, errs.KindNamespaceOp, "adding route")
	}
	return nil
}

// AddRule installs a policy routing rule within the bound namespace.
func AddRule(nlh *netlink.Handle, rule *netlink.Rule) error {
	if err := nlh.RuleAdd(rule); err != nil {
		return errs.Wrap(err, errs.KindNamespaceOp, "adding rule")
	}
	return nil
}

// CreateBridge creates a bridge interface within the bound namespace.
func CreateBridge(nlh *netlink.Handle, name string) error {
	la := netlink.NewLinkAttrs()
	la.Name = name
	br := &netlink.Bridge{LinkAttrs: la}
	if err := nlh.LinkAdd(br); err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "creating bridge %s", name)
	}
	return nil
}

// SetMaster attaches linkName to the bridge master within the bound namespace.
func SetMaster(nlh *netlink.Handle, linkName, master string) error {
	link, err := nlh.LinkByName(linkName)
	if err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "looking up link %s", linkName)
	}
	br, err := nlh.LinkByName(master)
	if err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "looking up bridge %s", master)
	}
	if err := nlh.LinkSetMaster(link, br); err != nil {
		return errs.Wrapf(err, errs.KindNamespaceOp, "attaching %s to bridge %s", linkName, master)
	}
	return nil
}
