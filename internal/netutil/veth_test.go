// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVethPeerNameDeterministicAndShort(t *testing.T) {
	a := VethPeerName("r1", "r2", "ethB")
	b := VethPeerName("r1", "r2", "ethB")
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, len(a), MaxIfnameLen)

	c := VethPeerName("r2", "r1", "ethA")
	assert.NotEqual(t, a, c, "distinct endpoints should (almost always) hash differently")
}

func TestHostVethNameShort(t *testing.T) {
	name := HostVethName("attacker-host", "eth0")
	assert.LessOrEqual(t, len(name), MaxIfnameLen)
}

func TestNamespaceNames(t *testing.T) {
	assert.Equal(t, "tsim-r1", NamespaceName("r1"))
	assert.Equal(t, "tsim-host-h1", HostNamespaceName("h1"))
}
