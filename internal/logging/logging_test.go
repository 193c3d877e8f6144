// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
}

func TestWithFieldsDoesNotPanic(t *testing.T) {
	l := NewNop()
	child := l.WithFields(map[string]any{"router": "r1", "run_id": "abc"})
	child.Info("setup complete")
	child.WithError(assert.AnError).Error("setup failed")
}

func TestNewHonorsFormat(t *testing.T) {
	l := New(Config{Level: "debug", Format: "json"})
	assert.NotNil(t, l)
	l.Debug("hello", "k", "v")
}
