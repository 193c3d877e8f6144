// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/config"
	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/lockmgr"
	"tsim.dev/tsim/internal/progress"
	"tsim.dev/tsim/internal/realize"
	"tsim.dev/tsim/internal/registry"
	"tsim.dev/tsim/internal/scheduler"
	"tsim.dev/tsim/internal/status"
	"tsim.dev/tsim/internal/topology"
)

type fakeBackend struct{}

func (fakeBackend) NamespaceExists(name string) bool { return true }
func (fakeBackend) CreateNamespace(name string) error { return nil }
func (fakeBackend) DeleteNamespace(name string) error { return nil }
func (fakeBackend) CreateVethPair(a, b string) error  { return nil }
func (fakeBackend) MoveToNamespace(link, ns string) error { return nil }
func (fakeBackend) SetLinkUp(ns, link string) error   { return nil }
func (fakeBackend) AddAddress(ns, link string, addr *net.IPNet) error { return nil }
func (fakeBackend) CreateBridge(ns, name string) error { return nil }
func (fakeBackend) AttachToBridge(ns, link, bridge string) error { return nil }
func (fakeBackend) AddRoute(ns string, r realize.RouteSpec) error { return nil }
func (fakeBackend) AddRule(ns string, r realize.RuleSpec) error   { return nil }
func (fakeBackend) ApplyIPTablesRestore(ns string, dump []byte) error { return nil }
func (fakeBackend) ApplyIPSetRestore(ns string, dump []byte) error   { return nil }
func (fakeBackend) DumpInterfaces(ns string) ([]byte, error) {
	return []byte(`[{"ifname":"eth0","flags":["UP"]}]`), nil
}
func (fakeBackend) DumpRoutes(ns string) ([]byte, error) { return []byte(`[]`), nil }
func (fakeBackend) IPTablesSave(ns string) ([]byte, error) { return []byte(""), nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	locks, err := lockmgr.New(dir + "/locks")
	require.NoError(t, err)
	queue, err := scheduler.NewQueue(dir + "/queue")
	require.NoError(t, err)
	reg := registry.New(dir+"/registry", locks)
	tracker := progress.New(dir + "/runs")

	sched := scheduler.New(queue, reg, locks, tracker, func(ctx context.Context, rec job.Record, phase func(job.Phase, string)) ([]job.ServiceVerdict, error) {
		return []job.ServiceVerdict{{Reachable: true}}, nil
	}, nil, nil)

	collector := status.New(fakeBackend{}, config.Default(), nil)
	engine := realize.New(fakeBackend{}, nil)

	topo := &topology.Topology{Routers: []topology.Router{{Hostname: "r1"}}}

	return NewServer(ServerOptions{
		Scheduler: sched,
		Tracker:   tracker,
		Registry:  reg,
		Collector: collector,
		Engine:    engine,
		Topology:  func() *topology.Topology { return topo },
	})
}

func TestSubmitAndQueryJob(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(submitJobRequest{
		Username: "alice",
		Params:   job.Params{SourceIP: "10.0.0.1", DestIP: "10.0.0.2"},
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created job.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.RunID)

	req = httptest.NewRequest(http.MethodGet, "/jobs/"+created.RunID, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitJobRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(submitJobRequest{Username: "alice"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelUnknownJobIsNotAnError(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetStatusQueriesCollector(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []status.RouterStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].NamespaceUp)
}

func TestSetupAndTeardownRealizeAndTearDownTopology(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/setup", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/teardown", bytes.NewReader([]byte("{}")))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddHostAndRemoveHost(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(addHostRequest{
		Name:            "h1",
		PrimaryAddress:  "10.0.1.2",
		PrefixLen:       24,
		ConnectedRouter: "r1",
		ConnectedIface:  "eth1",
	})
	req := httptest.NewRequest(http.MethodPost, "/hosts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/hosts/h1", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tsim_jobs_submitted_total")
}
