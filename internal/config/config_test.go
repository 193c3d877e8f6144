// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "/var/lib/tsim/facts", cfg.FactsDir)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 20, cfg.Parallelization.MaxWorkers)
	assert.Equal(t, time.Hour, cfg.CacheTTL())
	assert.Equal(t, 5*time.Second, cfg.NamespaceTimeout())
}

func TestLoadOverlaysFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("facts_dir: /tmp/facts\ncache:\n  max_size_mb: 50\n"), 0644))

	t.Setenv("TSIM_FACTS", "/tmp/env-facts")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-facts", cfg.FactsDir, "env override wins over file")
	assert.Equal(t, 50, cfg.Cache.MaxSizeMB, "file value retained where env doesn't override")
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().DataDir, cfg.DataDir)
}

func TestCreatorTagPrecedence(t *testing.T) {
	t.Setenv("TSIM_WSGI_USERNAME", "alice")
	t.Setenv("TSIM_API_USERNAME", "")
	assert.Equal(t, "wsgi:alice", CreatorTag())
}
