// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package progress implements the Progress Tracker (spec §4.G): a per-run
// directory holding progress.json (latest snapshot), phases.log
// (append-only), run.json (parameters and status), and an optional
// cancel.json, plus a reconciler that recovers orphaned runs — the same
// best-effort JSON-state persistence discipline the reference
// implementation's supervisor applies to crash history.
package progress

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tsim.dev/tsim/internal/errs"
	"tsim.dev/tsim/internal/job"
)

// Snapshot is progress.json's contents.
type Snapshot struct {
	RunID      string    `json:"run_id"`
	Phase      job.Phase `json:"phase"`
	Details    string    `json:"details,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s Snapshot) terminal() bool {
	switch s.Phase {
	case job.PhaseComplete, job.PhaseFailed, job.PhaseCancelled:
		return true
	default:
		return false
	}
}

// CancelRecord is cancel.json's contents, written by a cancellation request.
type CancelRecord struct {
	RequestedAt time.Time `json:"requested_at"`
	Reason      string    `json:"reason,omitempty"`
}

// Tracker manages per-run state directories under baseDir.
type Tracker struct {
	baseDir string
	mu      sync.Mutex
}

// New creates a Tracker rooted at baseDir.
func New(baseDir string) *Tracker {
	return &Tracker{baseDir: baseDir}
}

func (t *Tracker) runDir(runID string) string { return filepath.Join(t.baseDir, runID) }

// CreateRun creates the run directory and writes the initial run.json and
// progress.json.
func (t *Tracker) CreateRun(rec job.Record) error {
	dir := t.runDir(rec.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Wrapf(err, errs.KindInternal, "creating run directory for %s", rec.RunID)
	}
	if err := writeJSONAtomic(filepath.Join(dir, "run.json"), rec); err != nil {
		return err
	}
	snap := Snapshot{RunID: rec.RunID, Phase: job.PhaseWaitingForEnvironment, UpdatedAt: time.Now()}
	return writeJSONAtomic(filepath.Join(dir, "progress.json"), snap)
}

// LogPhase appends an entry to phases.log and atomically updates
// progress.json, the pairing spec §4.G describes for LogPhase.
func (t *Tracker) LogPhase(runID string, phase job.Phase, details string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	dir := t.runDir(runID)
	entry := job.ProgressEntry{Timestamp: time.Now(), RunID: runID, Phase: phase, Details: details}
	data, err := json.Marshal(entry)
	if err != nil {
		return errs.Wrap(err, errs.KindInternal, "marshaling progress entry")
	}
	f, err := os.OpenFile(filepath.Join(dir, "phases.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errs.Wrapf(err, errs.KindInternal, "opening phases.log for %s", runID)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errs.Wrapf(err, errs.KindInternal, "appending to phases.log for %s", runID)
	}

	snap := Snapshot{RunID: runID, Phase: phase, Details: details, UpdatedAt: time.Now()}
	return writeJSONAtomic(filepath.Join(dir, "progress.json"), snap)
}

// MarkComplete records a terminal phase and updates run.json's status and
// ended_at.
func (t *Tracker) MarkComplete(runID string, status job.Status, failureReason string) error {
	phase := job.PhaseComplete
	switch status {
	case job.StatusFailed:
		phase = job.PhaseFailed
	case job.StatusCancelled:
		phase = job.PhaseCancelled
	}
	if err := t.LogPhase(runID, phase, failureReason); err != nil {
		return err
	}

	dir := t.runDir(runID)
	var rec job.Record
	if err := readJSON(filepath.Join(dir, "run.json"), &rec); err != nil {
		return err
	}
	now := time.Now()
	rec.Status = status
	rec.EndedAt = &now
	rec.FailureReason = failureReason
	return writeJSONAtomic(filepath.Join(dir, "run.json"), rec)
}

// GetProgress reads the latest snapshot for runID.
func (t *Tracker) GetProgress(runID string) (Snapshot, error) {
	var snap Snapshot
	err := readJSON(filepath.Join(t.runDir(runID), "progress.json"), &snap)
	return snap, err
}

// GetRun reads run.json for runID.
func (t *Tracker) GetRun(runID string) (job.Record, error) {
	var rec job.Record
	err := readJSON(filepath.Join(t.runDir(runID), "run.json"), &rec)
	return rec, err
}

// StreamEntries returns every phases.log entry starting at byte offset
// cursor, and the new cursor to resume from (spec §4.I's cursor-based
// StreamProgress).
func (t *Tracker) StreamEntries(runID string, cursor int64) ([]job.ProgressEntry, int64, error) {
	path := filepath.Join(t.runDir(runID), "phases.log")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, nil
		}
		return nil, cursor, errs.Wrapf(err, errs.KindInternal, "opening phases.log for %s", runID)
	}
	defer f.Close()

	if _, err := f.Seek(cursor, 0); err != nil {
		return nil, cursor, errs.Wrap(err, errs.KindInternal, "seeking phases.log")
	}

	var entries []job.ProgressEntry
	scanner := bufio.NewScanner(f)
	newCursor := cursor
	for scanner.Scan() {
		line := scanner.Bytes()
		var e job.ProgressEntry
		if err := json.Unmarshal(line, &e); err == nil {
			entries = append(entries, e)
		}
		newCursor += int64(len(line)) + 1
	}
	return entries, newCursor, scanner.Err()
}

// RequestCancel writes cancel.json, recording the cancellation request.
func (t *Tracker) RequestCancel(runID, reason string) error {
	dir := t.runDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Wrapf(err, errs.KindInternal, "creating run directory for %s", runID)
	}
	return writeJSONAtomic(filepath.Join(dir, "cancel.json"), CancelRecord{RequestedAt: time.Now(), Reason: reason})
}

// GetCancelRequest reads cancel.json, if present.
func (t *Tracker) GetCancelRequest(runID string) (CancelRecord, bool) {
	var rec CancelRecord
	path := filepath.Join(t.runDir(runID), "cancel.json")
	if err := readJSON(path, &rec); err != nil {
		return CancelRecord{}, false
	}
	return rec, rec.RequestedAt != (time.Time{})
}

// ListRunIDs returns every run directory name under baseDir.
func (t *Tracker) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(t.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(err, errs.KindInternal, "listing run directories")
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errs.Wrap(err, errs.KindInternal, "marshaling "+path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errs.Wrapf(err, errs.KindInternal, "writing temp file for %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Wrapf(err, errs.KindInternal, "renaming into place %s", path)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrapf(err, errs.KindNotFound, "reading %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Wrapf(err, errs.KindRegistryCorruption, "parsing %s", path)
	}
	return nil
}
