// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	c := newTTLCache(time.Millisecond, 1<<20, "")
	c.put("r1", RouterStatus{Hostname: "r1"}, 10)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.get("r1")
	assert.False(t, ok)
}

func TestTTLCacheEvictsOldestWhenOverBudget(t *testing.T) {
	c := newTTLCache(time.Hour, 15, "")
	c.put("r1", RouterStatus{Hostname: "r1"}, 10)
	c.put("r2", RouterStatus{Hostname: "r2"}, 10)

	_, r1ok := c.get("r1")
	_, r2ok := c.get("r2")
	assert.False(t, r1ok, "r1 should have been evicted to stay under budget")
	assert.True(t, r2ok)
}

func TestTTLCacheInvalidate(t *testing.T) {
	c := newTTLCache(time.Hour, 1<<20, "")
	c.put("r1", RouterStatus{Hostname: "r1"}, 10)
	c.invalidate("r1")
	_, ok := c.get("r1")
	assert.False(t, ok)
}
