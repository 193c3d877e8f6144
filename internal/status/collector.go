// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package status

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"tsim.dev/tsim/internal/config"
	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/netutil"
	"tsim.dev/tsim/internal/realize"
)

// Mode selects how much detail Collect returns (spec §4.D).
type Mode string

const (
	ModeSummary Mode = "summary"
	ModeAll     Mode = "all"
)

// RouterStatus is one router's live-queried state.
type RouterStatus struct {
	Hostname     string            `json:"hostname"`
	NamespaceUp  bool              `json:"namespace_up"`
	Interfaces   []InterfaceStatus `json:"interfaces,omitempty"`
	RouteCount   int               `json:"route_count"`
	IPTablesRaw  string            `json:"iptables_raw,omitempty"`
	QueriedAt    time.Time         `json:"queried_at"`
	Error        string            `json:"error,omitempty"`
}

// InterfaceStatus is one interface's live-queried state, with its veth name
// translated back to the declared interface name from the fact document
// (spec §4.D "interface-name translation").
type InterfaceStatus struct {
	DeclaredName string `json:"name"`
	SystemName   string `json:"system_name"`
	Up           bool   `json:"up"`
}

// NameTranslator maps a router's declared interface name to the system veth
// name the Realization Engine actually created (tsimd wires
// realize.SystemInterfaceName, which derives it via netutil.VethPeerName).
type NameTranslator func(router, declaredIface string) (systemName string)

// Collector queries live namespace state through a Backend, caching results
// per spec §6's cache configuration.
type Collector struct {
	backend    realize.Backend
	cache      *ttlCache
	cfg        *config.Config
	translate  NameTranslator
	metrics    *Metrics
}

// New creates a Collector. cfg controls cache TTL/size and worker
// concurrency (spec §6); translate resolves declared interface names to
// system names (nil disables translation, system names are returned as-is).
func New(backend realize.Backend, cfg *config.Config, translate NameTranslator) *Collector {
	if cfg == nil {
		cfg = config.Default()
	}
	maxBytes := cfg.Cache.MaxSizeMB * 1024 * 1024
	basePath := ""
	if cfg.Cache.Backend == "shared_memory" || cfg.Cache.Backend == "filesystem" {
		basePath = cfg.Cache.BasePath
	}
	return &Collector{
		backend:   backend,
		cache:     newTTLCache(cfg.CacheTTL(), maxBytes, basePath),
		cfg:       cfg,
		translate: translate,
		metrics:   NewMetrics(),
	}
}

// Metrics returns the collector's Prometheus metrics, for registration
// against a shared registry.
func (c *Collector) Metrics() *Metrics { return c.metrics }

// Collect queries (or serves from cache) the status of every hostname, using
// a bounded worker pool when parallelization is enabled (spec §4.D, §6).
func (c *Collector) Collect(ctx context.Context, hostnames []string, declaredIfaces map[string][]string, mode Mode) ([]RouterStatus, error) {
	results := make([]RouterStatus, len(hostnames))

	workers := 1
	if c.cfg.Parallelization.Enabled {
		workers = c.cfg.Parallelization.MaxWorkers
	}
	sem := make(chan struct{}, workers)

	g, gctx := errgroup.WithContext(ctx)
	for i, host := range hostnames {
		i, host := i, host
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			qctx, cancel := context.WithTimeout(gctx, c.cfg.NamespaceTimeout())
			defer cancel()
			results[i] = c.collectOne(qctx, host, declaredIfaces[host], mode)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, errs.Wrap(err, errs.KindInternal, "collecting router status")
	}
	return results, nil
}

func (c *Collector) collectOne(ctx context.Context, host string, declared []string, mode Mode) RouterStatus {
	ns := netutil.NamespaceName(host)

	if c.cfg.Cache.Enabled {
		if cached, ok := c.cache.get(host); ok {
			c.metrics.CacheHits.Inc()
			return cached
		}
		c.metrics.CacheMisses.Inc()
	}

	out := RouterStatus{Hostname: host, QueriedAt: time.Now()}
	if !c.backend.NamespaceExists(ns) {
		out.Error = "namespace not present"
		return out
	}
	out.NamespaceUp = true

	ifaceJSON, err := c.backend.DumpInterfaces(ns)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Interfaces = c.parseInterfaces(host, declared, ifaceJSON)

	routeJSON, err := c.backend.DumpRoutes(ns)
	if err == nil {
		out.RouteCount = countJSONArrayElements(routeJSON)
	}

	if mode == ModeAll {
		if raw, err := c.backend.IPTablesSave(ns); err == nil {
			out.IPTablesRaw = string(raw)
		}
	}

	if c.cfg.Cache.Enabled {
		c.cache.put(host, out, len(ifaceJSON)+len(routeJSON)+len(out.IPTablesRaw))
	}
	return out
}

// Invalidate drops a host's cached status, used after Setup/Teardown/AddHost
// mutate a namespace so the next query reflects live state.
func (c *Collector) Invalidate(host string) {
	c.cache.invalidate(host)
}

func (c *Collector) parseInterfaces(host string, declared []string, ifaceJSON []byte) []InterfaceStatus {
	var raw []struct {
		IfName   string `json:"ifname"`
		Flags    []string `json:"flags"`
	}
	_ = json.Unmarshal(ifaceJSON, &raw)

	systemUp := make(map[string]bool, len(raw))
	for _, r := range raw {
		up := false
		for _, f := range r.Flags {
			if f == "UP" {
				up = true
			}
		}
		systemUp[r.IfName] = up
	}

	out := make([]InterfaceStatus, 0, len(declared))
	for _, d := range declared {
		sys := d
		if c.translate != nil {
			sys = c.translate(host, d)
		}
		out = append(out, InterfaceStatus{DeclaredName: d, SystemName: sys, Up: systemUp[sys]})
	}
	return out
}

func countJSONArrayElements(data []byte) int {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return 0
	}
	return len(arr)
}
