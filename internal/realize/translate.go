// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package realize

import (
	"tsim.dev/tsim/internal/netutil"
	"tsim.dev/tsim/internal/topology"
)

// SystemInterfaceName returns the veth name Setup actually assigned to
// router's declared iface, mirroring the naming realizeDirectLink and
// realizeBridgeLink use. It is the inverse the Status Collector needs to
// translate live interface dumps back to declared names (spec §4.D).
func SystemInterfaceName(topo *topology.Topology, router, iface string) (string, bool) {
	link, ok := topo.LinkFor(router, iface)
	if !ok {
		return "", false
	}

	if link.Kind == topology.LinkKindBridge {
		return netutil.VethPeerName(router, "br", iface), true
	}

	if len(link.Endpoints) == 1 {
		return netutil.VethPeerName(router, "access", iface), true
	}

	var peer string
	for _, ep := range link.Endpoints {
		if ep.Router != router || ep.Interface != iface {
			peer = ep.Router
		}
	}
	if peer == "" {
		return "", false
	}
	return netutil.VethPeerName(router, peer, iface), true
}
