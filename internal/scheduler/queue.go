// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package scheduler implements the Job Queue & Scheduler (spec §4.F): a
// FIFO queue of reachability-test jobs, single-leader execution guarded by
// the global network_test lock, and cooperative cancellation checked
// between phases.
package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/job"
)

// Queue is a durable FIFO of job.Records, one file per job named by zero-
// padded sequence number so directory listing order is queue order.
type Queue struct {
	dir string
	mu  sync.Mutex
	seq uint64
}

// NewQueue creates a Queue rooted at dir, recovering the next sequence
// number from any jobs already on disk.
func NewQueue(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrapf(err, errs.KindInternal, "creating queue dir %s", dir)
	}
	q := &Queue{dir: dir}
	entries, err := q.files()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if n, ok := seqFromFilename(e); ok && n >= q.seq {
			q.seq = n + 1
		}
	}
	return q, nil
}

// Enqueue assigns the next sequence number to rec and persists it.
func (q *Queue) Enqueue(rec job.Record) (job.Record, error) {
	q.mu.Lock()
	rec.Sequence = q.seq
	q.seq++
	q.mu.Unlock()

	rec.Status = job.StatusQueued
	path := filepath.Join(q.dir, filename(rec.Sequence, rec.RunID))
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return rec, errs.Wrap(err, errs.KindInternal, "marshaling queued job")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return rec, errs.Wrapf(err, errs.KindInternal, "writing queued job %s", rec.RunID)
	}
	return rec, nil
}

// PopFront returns and removes the earliest-enqueued job, or ok=false if
// the queue is empty.
func (q *Queue) PopFront() (job.Record, bool, error) {
	entries, err := q.files()
	if err != nil {
		return job.Record{}, false, err
	}
	if len(entries) == 0 {
		return job.Record{}, false, nil
	}
	path := filepath.Join(q.dir, entries[0])
	data, err := os.ReadFile(path)
	if err != nil {
		return job.Record{}, false, errs.Wrapf(err, errs.KindInternal, "reading queued job %s", path)
	}
	var rec job.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return job.Record{}, false, errs.Wrapf(err, errs.KindRegistryCorruption, "parsing queued job %s", path)
	}
	if err := os.Remove(path); err != nil {
		return job.Record{}, false, errs.Wrapf(err, errs.KindInternal, "removing queued job %s", path)
	}
	return rec, true, nil
}

// Remove deletes a queued job by run ID before it starts (pre-start
// cancellation, spec §4.F). Returns ok=false if no queued entry matched.
func (q *Queue) Remove(runID string) (bool, error) {
	entries, err := q.files()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if strings.Contains(e, runID) {
			if err := os.Remove(filepath.Join(q.dir, e)); err != nil {
				return false, errs.Wrapf(err, errs.KindInternal, "removing queued job %s", e)
			}
			return true, nil
		}
	}
	return false, nil
}

// List returns every currently queued run ID, in FIFO order.
func (q *Queue) List() ([]string, error) {
	entries, err := q.files()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, runID, ok := parseFilename(e); ok {
			ids = append(ids, runID)
		}
	}
	return ids, nil
}

func (q *Queue) files() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, errs.Wrapf(err, errs.KindInternal, "listing queue dir %s", q.dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// seqDigits zero-pads sequence numbers so lexical and numeric filename
// ordering agree (uint64 max is 20 digits).
const seqDigits = 20

func filename(seq uint64, runID string) string {
	return fmt.Sprintf("%0*d-%s.json", seqDigits, seq, runID)
}

func parseFilename(name string) (uint64, string, bool) {
	name = strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	n, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return n, parts[1], true
}

func seqFromFilename(name string) (uint64, bool) {
	n, _, ok := parseFilename(name)
	return n, ok
}
