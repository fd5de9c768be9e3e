package models

import "time"

// RunStatus is the lifecycle state of a benchmark run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusDone      RunStatus = "done"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusDone, RunStatusError, RunStatusCancelled:
		return true
	}
	return false
}

// ExecutionMode controls how targets are swept within a tier
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential" // One target at a time
	ModeParallel   ExecutionMode = "parallel"   // All targets concurrently per tier
)

// RunManifest is the durable index of one benchmark run
type RunManifest struct {
	RunID     string        `json:"run_id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Status    RunStatus     `json:"status"`
	Mode      ExecutionMode `json:"mode"`

	Tiers   []Tier   `json:"tiers"`
	Targets []Target `json:"targets"`

	// BaselineID names the target comparisons are computed against
	BaselineID string `json:"baseline_id,omitempty"`

	Stream StreamParams `json:"stream"`

	// ArtifactPaths lists every result file written so far, relative to
	// the run directory, in write order.
	ArtifactPaths []string `json:"artifact_paths"`

	Error string `json:"error,omitempty"`
}

// Transition applies a status change, enforcing monotonicity: once a run
// reaches a terminal status it never changes again.
func (m *RunManifest) Transition(to RunStatus) bool {
	if m.Status.Terminal() {
		return false
	}
	m.Status = to
	m.UpdatedAt = time.Now()
	return true
}
