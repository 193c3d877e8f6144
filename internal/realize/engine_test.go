// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package realize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/topology"
)

func sampleTopology() *topology.Topology {
	r1 := topology.Router{
		Hostname: "r1",
		Interfaces: []topology.Interface{
			{Name: "eth0", Addrs: []topology.Address{{Family: "inet", Address: "10.0.0.1", PrefixLen: 30}}},
		},
	}
	r2 := topology.Router{
		Hostname: "r2",
		Interfaces: []topology.Interface{
			{Name: "eth0", Addrs: []topology.Address{{Family: "inet", Address: "10.0.0.2", PrefixLen: 30}}},
		},
	}
	topo := &topology.Topology{Routers: []topology.Router{r1, r2}}
	links, err := topology.BuildLinkGraph(topo.Routers)
	if err != nil {
		panic(err)
	}
	topo.Links = links
	return topo
}

func TestSetupCreatesNamespacesAndLinks(t *testing.T) {
	backend := newFakeBackend()
	eng := New(backend, nil)

	report, err := eng.Setup(sampleTopology())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, report.RoutersCreated)
	assert.Len(t, report.LinksCreated, 1)
	assert.True(t, backend.NamespaceExists("tsim-r1"))
	assert.True(t, backend.NamespaceExists("tsim-r2"))
}

func TestSetupRollsBackOnPartialFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.failCreateNamespace = "tsim-r2"
	eng := New(backend, nil)

	_, err := eng.Setup(sampleTopology())
	require.Error(t, err)
	assert.False(t, backend.NamespaceExists("tsim-r1"), "r1 namespace should have been rolled back")
	assert.False(t, backend.NamespaceExists("tsim-r2"))
}

func TestSetupIsIdempotentOnExistingNamespace(t *testing.T) {
	backend := newFakeBackend()
	backend.namespaces["tsim-r1"] = true
	eng := New(backend, nil)

	report, err := eng.Setup(sampleTopology())
	require.NoError(t, err)
	assert.Contains(t, report.Warnings[0], "tsim-r1")
}

func TestTeardownCollectsPerRouterResults(t *testing.T) {
	backend := newFakeBackend()
	backend.namespaces["tsim-r1"] = true
	eng := New(backend, nil)

	report := eng.Teardown(TeardownParams{Scope: ScopeAll, Routers: []string{"r1", "r2"}})
	assert.Contains(t, report.Removed, "r1")
	assert.Contains(t, report.Removed, "r2")
}

func TestAddHostWiresVethIntoRouterNamespace(t *testing.T) {
	backend := newFakeBackend()
	backend.namespaces["tsim-r1"] = true
	eng := New(backend, nil)

	host, err := eng.AddHost(sampleTopology(), HostSpec{
		Name: "h1", PrimaryAddress: "10.0.0.5", PrefixLen: 30,
		ConnectedRouter: "r1", ConnectedIface: "eth0", CreatorTag: "api:alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "h1", host.Name)
	assert.True(t, backend.NamespaceExists("tsim-host-h1"))
	assert.NotEmpty(t, backend.links["tsim-r1"])
}
