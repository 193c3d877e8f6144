// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads tsim's single configuration document (spec §6).
// YAML is accepted as a superset of JSON, so one loader handles both forms;
// environment variables listed in spec §6 override file-sourced values.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tsim.dev/tsim/internal/errs"
)

// CacheConfig controls the Status Collector's TTL cache (spec §4.D, §6).
type CacheConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BasePath        string `yaml:"base_path"`
	ExpirationSecs  int    `yaml:"expiration_seconds"`
	MaxSizeMB       int    `yaml:"max_size_mb"`
	Backend         string `yaml:"backend"` // "shared_memory" | "filesystem"
}

// ParallelizationConfig controls the bounded worker pool (spec §4.D, §6).
type ParallelizationConfig struct {
	Enabled              bool `yaml:"enabled"`
	MaxWorkers           int  `yaml:"max_workers"`
	TimeoutPerNamespace  int  `yaml:"timeout_per_namespace"`
}

// CollectionConfig toggles which facets the Status Collector queries (spec §6).
type CollectionConfig struct {
	Interfaces bool `yaml:"interfaces"`
	Routes     bool `yaml:"routes"`
	Rules      bool `yaml:"rules"`
	IPTables   bool `yaml:"iptables"`
	IPSets     bool `yaml:"ipsets"`
}

// FormattingConfig controls Status output formatting (spec §4.D, §6).
type FormattingConfig struct {
	TranslateInterfaceNames bool `yaml:"translate_interface_names"`
	JSONIndent              int  `yaml:"json_indent"`
}

// SchedulerConfig controls leader-election polling (spec §4.F, §6).
type SchedulerConfig struct {
	LeaderPollIntervalMS int `yaml:"leader_poll_interval_ms"`
}

// Config is the single recognized configuration document (spec §6, exhaustive).
type Config struct {
	FactsDir    string `yaml:"facts_dir"`
	RawFactsDir string `yaml:"raw_facts_dir"`

	DataDir    string `yaml:"data_dir"`
	RunDir     string `yaml:"run_dir"`
	SessionDir string `yaml:"session_dir"`
	LockDir    string `yaml:"lock_dir"`

	Cache            CacheConfig           `yaml:"cache"`
	Parallelization  ParallelizationConfig `yaml:"parallelization"`
	Collection       CollectionConfig      `yaml:"collection"`
	Formatting       FormattingConfig      `yaml:"formatting"`

	SessionTimeout int `yaml:"session_timeout"`
	CleanupAge     int `yaml:"cleanup_age"`

	UnixGroup string `yaml:"unix_group"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// Default returns tsim's documented defaults (spec §6).
func Default() *Config {
	return &Config{
		FactsDir:    "/var/lib/tsim/facts",
		RawFactsDir: "/var/lib/tsim/raw-facts",
		DataDir:     "/var/lib/tsim",
		RunDir:      "/var/lib/tsim/runs",
		SessionDir:  "/var/lib/tsim/sessions",
		LockDir:     "/var/lib/tsim/locks",
		Cache: CacheConfig{
			Enabled:        true,
			BasePath:       "/dev/shm/tsim/cache",
			ExpirationSecs: 3600,
			MaxSizeMB:      100,
			Backend:        "shared_memory",
		},
		Parallelization: ParallelizationConfig{
			Enabled:             true,
			MaxWorkers:          20,
			TimeoutPerNamespace: 5,
		},
		Collection: CollectionConfig{
			Interfaces: true, Routes: true, Rules: true, IPTables: true, IPSets: true,
		},
		Formatting: FormattingConfig{
			TranslateInterfaceNames: true,
			JSONIndent:              2,
		},
		SessionTimeout: 3600,
		CleanupAge:     86400,
		UnixGroup:      "tsim",
		Scheduler: SchedulerConfig{
			LeaderPollIntervalMS: 500,
		},
	}
}

// CacheTTL returns the cache expiration as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.ExpirationSecs) * time.Second
}

// NamespaceTimeout returns the per-namespace collector timeout.
func (c *Config) NamespaceTimeout() time.Duration {
	return time.Duration(c.Parallelization.TimeoutPerNamespace) * time.Second
}

// Load resolves the configuration document: start from Default(), overlay
// the file at path (or $TSIM_CONFIG if path is empty) if it exists, then
// overlay recognized environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TSIM_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// A missing file leaves the defaults in place.
		case err != nil:
			return nil, errs.Wrapf(err, errs.KindValidation, "reading config file %s", path)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errs.Wrapf(err, errs.KindValidation, "parsing config file %s", path)
			}
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TSIM_FACTS"); v != "" {
		cfg.FactsDir = v
	}
	if v := os.Getenv("TSIM_RAW_FACTS"); v != "" {
		cfg.RawFactsDir = v
	}
}

// CreatorTag builds the "<method>:<username>" tag from the environment
// variables an external layer sets before calling in (spec §3, §6):
// TSIM_WSGI_USERNAME, TSIM_API_USERNAME, TSIM_API_CALL.
func CreatorTag() string {
	if u := os.Getenv("TSIM_WSGI_USERNAME"); u != "" {
		return "wsgi:" + u
	}
	if u := os.Getenv("TSIM_API_USERNAME"); u != "" {
		return "api:" + u
	}
	if os.Getenv("TSIM_API_CALL") != "" {
		return "api:unknown"
	}
	return "cli:" + currentUser()
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
