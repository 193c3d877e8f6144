// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netutil

import "fmt"

// MaxIfnameLen is Linux's IFNAMSIZ-1 limit for interface names.
const MaxIfnameLen = 15

// hashIdentifier folds an arbitrary-length identifier into a short stable
// hex tag using 32-bit FNV-1a (GenerateVirtualMAC uses a different,
// multiply-by-31 hash).
func hashIdentifier(s string) uint32 {
	hash := uint32(2166136261)
	for _, c := range s {
		hash ^= uint32(c)
		hash *= 16777619
	}
	return hash
}

// VethPeerName derives a stable, <=15-char veth endpoint name for one side
// of a router<->router link, from (router, peer, interface). Two calls with
// the same inputs always produce the same name (spec §4.C step 2); the
// caller records the (router, interface) -> name mapping so Status can
// translate back to the declared interface name.
func VethPeerName(router, peer, iface string) string {
	tag := hashIdentifier(router + "|" + peer + "|" + iface)
	name := fmt.Sprintf("veth%x", tag)
	if len(name) > MaxIfnameLen {
		name = name[:MaxIfnameLen]
	}
	return name
}

// HostVethName derives the host-side veth name for a host namespace attaching
// to a router's access subnet, from (hostName, routerIface).
func HostVethName(hostName, routerIface string) string {
	tag := hashIdentifier(hostName + "|" + routerIface)
	name := fmt.Sprintf("hveth%x", tag)
	if len(name) > MaxIfnameLen {
		name = name[:MaxIfnameLen]
	}
	return name
}

// NamespaceName derives the `ip netns` name for a router namespace.
func NamespaceName(router string) string {
	return "tsim-" + router
}

// HostNamespaceName derives the `ip netns` name for a host namespace.
func HostNamespaceName(host string) string {
	return "tsim-host-" + host
}

// BridgeNamespaceHolder is the namespace a >=3-endpoint bridge lives in: the
// first router on the subnet hosts it (bridges aren't separately namespaced
// in tsim — spec §4.C step 1 only requires the bridge device to exist).
func BridgeNamespaceHolder(firstRouter string) string {
	return NamespaceName(firstRouter)
}
