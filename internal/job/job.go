// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package job defines the Job record, Progress entry, and Service verdict
// types shared by the Scheduler, Progress Tracker, and External Interface
// Layer (spec §3).
package job

import "time"

// Status is a job's lifecycle state (spec §3).
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusStarting  Status = "STARTING"
	StatusRunning   Status = "RUNNING"
	StatusFailed    Status = "FAILED"
	StatusComplete  Status = "COMPLETE"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether s is a sticky terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusComplete, StatusCancelled:
		return true
	default:
		return false
	}
}

// AnalysisMode selects how many waypoints the Reachability Tester probes.
type AnalysisMode string

const (
	ModeQuick    AnalysisMode = "quick"
	ModeDetailed AnalysisMode = "detailed"
)

// Service is one (port, proto) pair to test.
type Service struct {
	Port  int    `json:"port"`
	Proto string `json:"proto"` // "tcp" or "udp"
}

// Params are the user-supplied reachability test parameters (spec §3).
type Params struct {
	SourceIP      string       `json:"source_ip"`
	SourcePort    int          `json:"source_port,omitempty"`
	DestIP        string       `json:"dest_ip"`
	Services      []Service    `json:"services"`
	UserTraceData string       `json:"user_trace_data,omitempty"`
	AnalysisMode  AnalysisMode `json:"analysis_mode"`
}

// Record is one reachability job (spec §3).
type Record struct {
	RunID     string    `json:"run_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	Params    Params    `json:"params"`
	Status    Status    `json:"status"`

	// Sequence breaks enqueue-timestamp ties for FIFO ordering (spec §5).
	Sequence uint64 `json:"sequence"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	CancelRequested bool   `json:"cancel_requested,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// Phase is a Tester or Scheduler progress checkpoint (spec §4.E, §4.F).
type Phase string

const (
	PhaseWaitingForEnvironment Phase = "WAITING_FOR_ENVIRONMENT"
	PhaseResolveEndpoints      Phase = "RESOLVE_ENDPOINTS"
	PhaseComputePath           Phase = "COMPUTE_PATH"
	PhasePrepareWaypoints      Phase = "PREPARE_WAYPOINTS"
	PhaseProbeService          Phase = "PROBE_SERVICE"
	PhaseCleanup               Phase = "CLEANUP"
	PhaseStarting              Phase = "STARTING"
	PhaseRunning               Phase = "RUNNING"
	PhaseComplete              Phase = "COMPLETE"
	PhaseFailed                Phase = "FAILED"
	PhaseCancelled             Phase = "CANCELLED"
)

// ProgressEntry is one append-only log line (spec §3).
type ProgressEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	RunID          string    `json:"run_id"`
	Phase          Phase     `json:"phase"`
	Details        string    `json:"details,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
}

// Decision is a waypoint's classified firewall verdict (spec §3).
type Decision string

const (
	DecisionAccept  Decision = "ACCEPT"
	DecisionDrop    Decision = "DROP"
	DecisionReject  Decision = "REJECT"
	DecisionUnknown Decision = "UNKNOWN"
)

// WaypointResult is one router's observed counter delta for one probe.
type WaypointResult struct {
	Router      string   `json:"router"`
	Chain       string   `json:"chain"`
	RuleID      string   `json:"rule_id,omitempty"`
	PacketDelta uint64   `json:"packet_delta"`
	ByteDelta   uint64   `json:"byte_delta"`
	Decision    Decision `json:"decision"`
}

// ServiceVerdict is the Tester's per-service output (spec §3).
type ServiceVerdict struct {
	Service         Service          `json:"service"`
	Reachable       bool             `json:"reachable"`
	WaypointResults []WaypointResult `json:"waypoint_results,omitempty"`
	FinalDecision   Decision         `json:"final_decision"`
	TimingMS        int64            `json:"timing_ms"`
	Reason          string           `json:"reason,omitempty"` // set for PathLoop/PathBlackhole
}
