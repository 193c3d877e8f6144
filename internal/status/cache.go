// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package status implements the Status Collector (spec §4.D): bounded
// concurrent namespace queries behind a size-capped TTL cache, with
// interface-name translation back to the declared names from the fact
// documents.
package status

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type cacheEntry struct {
	report    RouterStatus
	expiresAt time.Time
	size      int
}

// cacheFile is the on-disk representation of one cached entry, written atomically
// under the configured shared-memory directory so every worker process sees
// the same cache (spec §4.D, §6: "cache.backend: shared_memory|filesystem").
type cacheFile struct {
	Report    RouterStatus `json:"report"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// ttlCache is a size-capped, TTL-expiring cache keyed by router hostname. It
// evicts oldest-inserted entries once the configured byte budget is
// exceeded, the same bound the reference implementation applies to its
// on-disk conntrack cache.
//
// When basePath is set, every entry is also persisted as a JSON file under
// that directory (get reads through to disk so a result cached by one
// worker process is visible to the others); the in-process map only tracks
// approximate size for this process's eviction bookkeeping. If basePath
// can't be created (e.g. no shared-memory mount available), the cache
// silently falls back to process-local only.
type ttlCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxBytes int
	basePath string
	curBytes int
	order    []string
	entries  map[string]cacheEntry
}

func newTTLCache(ttl time.Duration, maxBytes int, basePath string) *ttlCache {
	if basePath != "" {
		if err := os.MkdirAll(basePath, 0755); err != nil {
			basePath = ""
		}
	}
	return &ttlCache{ttl: ttl, maxBytes: maxBytes, basePath: basePath, entries: make(map[string]cacheEntry)}
}

func (c *ttlCache) filePath(key string) string {
	return filepath.Join(c.basePath, url.PathEscape(key)+".json")
}

func (c *ttlCache) get(key string) (RouterStatus, bool) {
	if c.basePath != "" {
		return c.getFromDisk(key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return RouterStatus{}, false
	}
	return e.report, true
}

func (c *ttlCache) getFromDisk(key string) (RouterStatus, bool) {
	data, err := os.ReadFile(c.filePath(key))
	if err != nil {
		return RouterStatus{}, false
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return RouterStatus{}, false
	}
	if time.Now().After(cf.ExpiresAt) {
		return RouterStatus{}, false
	}
	return cf.Report, true
}

func (c *ttlCache) put(key string, report RouterStatus, approxSize int) {
	if c.basePath != "" {
		c.putToDisk(key, report, approxSize)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(key, report, approxSize)
}

func (c *ttlCache) putToDisk(key string, report RouterStatus, approxSize int) {
	cf := cacheFile{Report: report, ExpiresAt: time.Now().Add(c.ttl)}
	data, err := json.Marshal(cf)
	if err != nil {
		return
	}
	path := c.filePath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key, approxSize, func(evicted string) { os.Remove(c.filePath(evicted)) })
}

func (c *ttlCache) insertLocked(key string, report RouterStatus, approxSize int) {
	c.evictLocked(key, approxSize, func(string) {})
	c.entries[key] = cacheEntry{report: report, expiresAt: time.Now().Add(c.ttl), size: approxSize}
}

// evictLocked accounts for key's new size and drops oldest-inserted entries
// (calling onEvict for each) until curBytes is back under maxBytes. Must be
// called with c.mu held.
func (c *ttlCache) evictLocked(key string, approxSize int, onEvict func(string)) {
	if old, ok := c.entries[key]; ok {
		c.curBytes -= old.size
	} else {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{size: approxSize}
	c.curBytes += approxSize

	for c.curBytes > c.maxBytes && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.entries[oldest]; ok {
			c.curBytes -= e.size
			delete(c.entries, oldest)
			onEvict(oldest)
		}
	}
}

func (c *ttlCache) invalidate(key string) {
	if c.basePath != "" {
		os.Remove(c.filePath(key))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.curBytes -= e.size
		delete(c.entries, key)
	}
}
