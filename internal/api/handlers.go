// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/job"
	"tsim.dev/tsim/internal/portspec"
	"tsim.dev/tsim/internal/realize"
	"tsim.dev/tsim/internal/status"
)

// routerLockTimeout bounds how long an External Interface Layer call waits
// to acquire the router locks it needs before touching namespace state
// (spec §4.H); Setup/Teardown/AddHost/RemoveHost all take it.
const routerLockTimeout = 30 * time.Second

// submitJobRequest is the POST /jobs body. ServiceSpec is an alternative to
// Params.Services: a comma-separated port specification ("80,443/tcp,ssh")
// expanded via internal/portspec, for callers that would rather write a
// spec string than a JSON array.
type submitJobRequest struct {
	Username    string     `json:"username"`
	Params      job.Params `json:"params"`
	ServiceSpec string     `json:"service_spec,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err)
		return
	}
	if req.Params.SourceIP == "" || req.Params.DestIP == "" {
		respondWithError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "source_ip and dest_ip are required"))
		return
	}
	if req.Params.AnalysisMode == "" {
		req.Params.AnalysisMode = job.ModeQuick
	}
	if req.Username == "" {
		req.Username = "api:anonymous"
	}
	if len(req.Params.Services) == 0 {
		if req.ServiceSpec != "" {
			services, err := portspec.Parse(req.ServiceSpec, "tcp")
			if err != nil {
				respondWithError(w, http.StatusBadRequest, err)
				return
			}
			req.Params.Services = services
		} else if req.Params.AnalysisMode == job.ModeQuick {
			req.Params.Services = portspec.QuickPorts
		}
	}

	rec, err := s.sched.Submit(req.Username, req.Params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.observeSubmit(req.Params.AnalysisMode)
	respondWithJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.tracker.ListRunIDs()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	recs := make([]job.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.tracker.GetRun(id)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Sequence < recs[j].Sequence })
	respondWithJSON(w, http.StatusOK, recs)
}

func (s *Server) handleQueryProgress(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	rec, err := s.tracker.GetRun(runID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, err)
		return
	}
	snap, err := s.tracker.GetProgress(runID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	respondWithJSON(w, http.StatusOK, struct {
		job.Record
		Progress interface{} `json:"progress"`
	}{Record: rec, Progress: snap})
}

func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)

	entries, next, err := s.tracker.StreamEntries(runID, cursor)
	if err != nil {
		respondWithError(w, http.StatusNotFound, err)
		return
	}
	respondWithJSON(w, http.StatusOK, struct {
		Entries []job.ProgressEntry `json:"entries"`
		Cursor  int64               `json:"cursor"`
	}{Entries: entries, Cursor: next})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "cancelled via API"
	}
	if err := s.sched.Cancel(runID, reason); err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(job.StatusCancelled)})
}

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.reg.ListHosts()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	respondWithJSON(w, http.StatusOK, hosts)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	topo := s.topo()
	if topo == nil {
		respondWithError(w, http.StatusServiceUnavailable, errs.New(errs.KindInternal, "no topology loaded"))
		return
	}

	mode := status.ModeSummary
	if r.URL.Query().Get("mode") == "all" {
		mode = status.ModeAll
	}

	hostnames := topo.RouterNames()
	if want := r.URL.Query()["router"]; len(want) > 0 {
		hostnames = want
	}

	declared := make(map[string][]string, len(hostnames))
	for _, h := range hostnames {
		rt, ok := topo.RouterByName(h)
		if !ok {
			continue
		}
		names := make([]string, len(rt.Interfaces))
		for i, iface := range rt.Interfaces {
			names[i] = iface.Name
		}
		declared[h] = names
	}

	results, err := s.collector.Collect(r.Context(), hostnames, declared, mode)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondWithError(w, http.StatusServiceUnavailable, errs.New(errs.KindInternal, "realization engine not configured"))
		return
	}
	topo := s.topo()
	if topo == nil {
		respondWithError(w, http.StatusServiceUnavailable, errs.New(errs.KindInternal, "no topology loaded"))
		return
	}

	routers := topo.RouterNames()
	if err := s.reg.AcquireRouterLocks(routers, routerLockTimeout); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer s.reg.ReleaseRouterLocks(routers)

	report, err := s.engine.Setup(topo)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	for _, host := range routers {
		s.collector.Invalidate(host)
	}
	respondWithJSON(w, http.StatusOK, report)
}

// teardownRequest selects a scoped teardown (spec §4.C): "all" (default),
// "router" (Router names the single router), "hosts-only", or
// "wsgi-created" (only hosts whose CreatorTag is "wsgi:*").
type teardownRequest struct {
	Scope  string `json:"scope"`
	Router string `json:"router"`
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondWithError(w, http.StatusServiceUnavailable, errs.New(errs.KindInternal, "realization engine not configured"))
		return
	}
	var req teardownRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, err)
			return
		}
	}
	scope := realize.TeardownScope(req.Scope)
	if scope == "" {
		scope = realize.ScopeAll
	}

	hosts, err := s.reg.ListHosts()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	teardownHosts := make([]realize.TeardownHost, len(hosts))
	for i, h := range hosts {
		teardownHosts[i] = realize.TeardownHost{Name: h.Name, CreatorTag: h.CreatorTag}
	}

	var routers []string
	if topo := s.topo(); topo != nil {
		routers = topo.RouterNames()
	}

	lockTargets := routers
	if scope == realize.ScopeRouter {
		lockTargets = []string{req.Router}
	}
	if len(lockTargets) > 0 {
		if err := s.reg.AcquireRouterLocks(lockTargets, routerLockTimeout); err != nil {
			respondWithError(w, http.StatusServiceUnavailable, err)
			return
		}
		defer s.reg.ReleaseRouterLocks(lockTargets)
	}

	report := s.engine.Teardown(realize.TeardownParams{
		Scope: scope, Router: req.Router, Routers: routers, Hosts: teardownHosts,
	})

	removed := make(map[string]bool, len(report.Removed))
	for _, name := range report.Removed {
		removed[name] = true
	}
	for _, h := range teardownHosts {
		if removed[h.Name] {
			s.reg.RemoveHost(h.Name)
		}
	}
	for _, host := range report.Removed {
		s.collector.Invalidate(host)
	}
	respondWithJSON(w, http.StatusOK, report)
}

type addHostRequest struct {
	Name            string `json:"name"`
	PrimaryAddress  string `json:"primary_address"`
	PrefixLen       int    `json:"prefix_len"`
	ConnectedRouter string `json:"connected_router"`
	ConnectedIface  string `json:"connected_interface"`
	Username        string `json:"username"`
}

func (s *Server) handleAddHost(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondWithError(w, http.StatusServiceUnavailable, errs.New(errs.KindInternal, "realization engine not configured"))
		return
	}
	topo := s.topo()
	if topo == nil {
		respondWithError(w, http.StatusServiceUnavailable, errs.New(errs.KindInternal, "no topology loaded"))
		return
	}
	var req addHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" || req.PrimaryAddress == "" || req.ConnectedRouter == "" || req.ConnectedIface == "" {
		respondWithError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "name, primary_address, connected_router and connected_interface are required"))
		return
	}
	if req.Username == "" {
		req.Username = "anonymous"
	}

	if err := s.reg.AcquireRouterLocks([]string{req.ConnectedRouter}, routerLockTimeout); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer s.reg.ReleaseRouterLocks([]string{req.ConnectedRouter})

	host, err := s.engine.AddHost(topo, realize.HostSpec{
		Name:            req.Name,
		PrimaryAddress:  req.PrimaryAddress,
		PrefixLen:       req.PrefixLen,
		ConnectedRouter: req.ConnectedRouter,
		ConnectedIface:  req.ConnectedIface,
		CreatorTag:      "wsgi:" + req.Username,
	})
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.reg.PutHost(host); err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := s.reg.AcquireHostLease(host.Name, req.Username, true); err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, host)
}

func (s *Server) handleRemoveHost(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondWithError(w, http.StatusServiceUnavailable, errs.New(errs.KindInternal, "realization engine not configured"))
		return
	}
	name := mux.Vars(r)["name"]

	if h, ok, err := s.reg.GetHost(name); err == nil && ok && h.ConnectedRouter != "" {
		if err := s.reg.AcquireRouterLocks([]string{h.ConnectedRouter}, routerLockTimeout); err != nil {
			respondWithError(w, http.StatusServiceUnavailable, err)
			return
		}
		defer s.reg.ReleaseRouterLocks([]string{h.ConnectedRouter})
	}

	holder := r.URL.Query().Get("username")
	if holder == "" {
		holder = "anonymous"
	}
	refcount, wsgi, leaseErr := s.reg.ReleaseHostLease(name, holder)
	if leaseErr != nil && errs.GetKind(leaseErr) != errs.KindNotFound {
		respondWithError(w, http.StatusInternalServerError, leaseErr)
		return
	}
	if leaseErr == nil && (refcount > 0 || !wsgi) {
		respondWithJSON(w, http.StatusOK, map[string]any{"name": name, "status": "released", "refcount": refcount})
		return
	}

	if err := s.engine.RemoveHost(name); err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.reg.RemoveHost(name); err != nil {
		respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"name": name, "status": "removed"})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func respondWithError(w http.ResponseWriter, code int, err error) {
	if errs.GetKind(err) == errs.KindNotFound {
		code = http.StatusNotFound
	}
	respondWithJSON(w, code, map[string]string{"error": err.Error(), "kind": errs.GetKind(err).String()})
}
