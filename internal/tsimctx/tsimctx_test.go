// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tsimctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsim.dev/tsim/internal/config"
)

func TestNewWiresAllHandles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.LockDir = dir + "/locks"
	cfg.Cache.BasePath = dir + "/cache"
	cfg.RunDir = dir + "/runs"

	ctx, err := New(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, ctx.Locks)
	assert.NotNil(t, ctx.Registry)
	assert.NotNil(t, ctx.Progress)
	assert.NotNil(t, ctx.Pool)
	assert.NotNil(t, ctx.Log)
}
