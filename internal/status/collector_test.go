// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package status

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/config"
	"tsim.dev/tsim/internal/realize"
)

type fakeBackend struct {
	namespaces map[string]bool
	ifaceJSON  map[string][]byte
	routeJSON  map[string][]byte
}

func (f *fakeBackend) NamespaceExists(name string) bool { return f.namespaces[name] }
func (f *fakeBackend) CreateNamespace(name string) error { f.namespaces[name] = true; return nil }
func (f *fakeBackend) DeleteNamespace(name string) error { delete(f.namespaces, name); return nil }
func (f *fakeBackend) CreateVethPair(a, b string) error  { return nil }
func (f *fakeBackend) MoveToNamespace(link, ns string) error { return nil }
func (f *fakeBackend) SetLinkUp(ns, link string) error       { return nil }
func (f *fakeBackend) AddAddress(ns, link string, addr *net.IPNet) error { return nil }
func (f *fakeBackend) CreateBridge(ns, name string) error                { return nil }
func (f *fakeBackend) AttachToBridge(ns, link, bridge string) error      { return nil }
func (f *fakeBackend) AddRoute(ns string, r realize.RouteSpec) error      { return nil }
func (f *fakeBackend) AddRule(ns string, r realize.RuleSpec) error       { return nil }
func (f *fakeBackend) ApplyIPTablesRestore(ns string, dump []byte) error { return nil }
func (f *fakeBackend) ApplyIPSetRestore(ns string, dump []byte) error    { return nil }
func (f *fakeBackend) DumpInterfaces(ns string) ([]byte, error)          { return f.ifaceJSON[ns], nil }
func (f *fakeBackend) DumpRoutes(ns string) ([]byte, error)              { return f.routeJSON[ns], nil }
func (f *fakeBackend) IPTablesSave(ns string) ([]byte, error)            { return []byte("*filter\nCOMMIT\n"), nil }

func TestCollectTranslatesInterfaceNames(t *testing.T) {
	backend := &fakeBackend{
		namespaces: map[string]bool{"tsim-r1": true},
		ifaceJSON:  map[string][]byte{"tsim-r1": []byte(`[{"ifname":"veth1234","flags":["UP"]}]`)},
		routeJSON:  map[string][]byte{"tsim-r1": []byte(`[{}, {}]`)},
	}
	translate := func(router, declared string) string { return "veth1234" }
	c := New(backend, config.Default(), translate)

	results, err := c.Collect(context.Background(), []string{"r1"}, map[string][]string{"r1": {"eth0"}}, ModeSummary)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].NamespaceUp)
	assert.Equal(t, 2, results[0].RouteCount)
	require.Len(t, results[0].Interfaces, 1)
	assert.Equal(t, "eth0", results[0].Interfaces[0].DeclaredName)
	assert.Equal(t, "veth1234", results[0].Interfaces[0].SystemName)
	assert.True(t, results[0].Interfaces[0].Up)
}

func TestCollectMissingNamespaceReportsError(t *testing.T) {
	backend := &fakeBackend{namespaces: map[string]bool{}}
	c := New(backend, config.Default(), nil)

	results, err := c.Collect(context.Background(), []string{"ghost"}, nil, ModeSummary)
	require.NoError(t, err)
	assert.False(t, results[0].NamespaceUp)
	assert.NotEmpty(t, results[0].Error)
}

func TestCollectServesFromCacheOnSecondCall(t *testing.T) {
	backend := &fakeBackend{
		namespaces: map[string]bool{"tsim-r1": true},
		ifaceJSON:  map[string][]byte{"tsim-r1": []byte(`[]`)},
		routeJSON:  map[string][]byte{"tsim-r1": []byte(`[]`)},
	}
	c := New(backend, config.Default(), nil)

	first, err := c.Collect(context.Background(), []string{"r1"}, nil, ModeSummary)
	require.NoError(t, err)

	delete(backend.namespaces, "tsim-r1") // prove second call doesn't re-query
	second, err := c.Collect(context.Background(), []string{"r1"}, nil, ModeSummary)
	require.NoError(t, err)
	assert.Equal(t, first[0].QueriedAt, second[0].QueriedAt)
}

func TestInvalidateForcesRequery(t *testing.T) {
	backend := &fakeBackend{
		namespaces: map[string]bool{"tsim-r1": true},
		ifaceJSON:  map[string][]byte{"tsim-r1": []byte(`[]`)},
		routeJSON:  map[string][]byte{"tsim-r1": []byte(`[]`)},
	}
	c := New(backend, config.Default(), nil)

	_, err := c.Collect(context.Background(), []string{"r1"}, nil, ModeSummary)
	require.NoError(t, err)

	c.Invalidate("r1")
	delete(backend.namespaces, "tsim-r1")
	second, err := c.Collect(context.Background(), []string{"r1"}, nil, ModeSummary)
	require.NoError(t, err)
	assert.False(t, second[0].NamespaceUp)
}

func TestCollectRecordsCacheHitAndMissMetrics(t *testing.T) {
	backend := &fakeBackend{
		namespaces: map[string]bool{"tsim-r1": true},
		ifaceJSON:  map[string][]byte{"tsim-r1": []byte(`[]`)},
		routeJSON:  map[string][]byte{"tsim-r1": []byte(`[]`)},
	}
	c := New(backend, config.Default(), nil)

	_, err := c.Collect(context.Background(), []string{"r1"}, nil, ModeSummary)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().CacheMisses))

	_, err = c.Collect(context.Background(), []string{"r1"}, nil, ModeSummary)
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().CacheHits))
}
