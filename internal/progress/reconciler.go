// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package progress

import (
	"fmt"
	"time"

	"tsim.dev/tsim/internal/job"
)

// DefaultGrace is the reconciler's orphan-detection grace period (spec §4.G:
// "not the current job for longer than a small grace (1.5 s)").
const DefaultGrace = 1500 * time.Millisecond

// Reconciler periodically marks orphaned runs CANCELLED: non-terminal runs
// that are neither queued nor the scheduler's current job.
type Reconciler struct {
	tracker *Tracker
	grace   time.Duration
}

// NewReconciler creates a Reconciler with the given grace period (zero uses
// DefaultGrace).
func NewReconciler(tracker *Tracker, grace time.Duration) *Reconciler {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Reconciler{tracker: tracker, grace: grace}
}

// Sweep scans every run directory once. queuedOrCurrent reports whether
// runID is still tracked by the scheduler (queued or the active job); a run
// absent from that set whose snapshot is non-terminal and older than the
// grace period is marked CANCELLED.
func (r *Reconciler) Sweep(queuedOrCurrent func(runID string) bool) error {
	ids, err := r.tracker.ListRunIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		snap, err := r.tracker.GetProgress(id)
		if err != nil || snap.terminal() {
			continue
		}
		if queuedOrCurrent(id) {
			continue
		}
		if time.Since(snap.UpdatedAt) < r.grace {
			continue
		}

		reason := fmt.Sprintf("orphaned: no progress since %s", snap.UpdatedAt.Format(time.RFC3339))
		if cancel, ok := r.tracker.GetCancelRequest(id); ok && cancel.Reason != "" {
			reason = cancel.Reason
		}
		if err := r.tracker.MarkComplete(id, job.StatusCancelled, reason); err != nil {
			return err
		}
	}
	return nil
}
