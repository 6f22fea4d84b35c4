package core

import (
	"fmt"
	"time"
)

// HeartbeatState classifies run liveness.
type HeartbeatState string

const (
	HeartbeatIdle    HeartbeatState = "IDLE"
	HeartbeatRunning HeartbeatState = "RUNNING"
	HeartbeatWarning HeartbeatState = "WARNING"
	HeartbeatStale   HeartbeatState = "STALE"
	HeartbeatBlocked HeartbeatState = "BLOCKED"
)

// ValidHeartbeatState checks membership in the frozen enum.
func ValidHeartbeatState(s HeartbeatState) bool {
	switch s {
	case HeartbeatIdle, HeartbeatRunning, HeartbeatWarning, HeartbeatStale, HeartbeatBlocked:
		return true
	}
	return false
}

// Thresholds holds the silence windows for liveness classification.
// Construct through NewThresholds; stale must never undercut warning.
type Thresholds struct {
	WarningAfter time.Duration
	StaleAfter   time.Duration
}

// NewThresholds validates and builds a threshold pair. Construction with
// stale < warning fails before any tick can occur.
func NewThresholds(warningAfter, staleAfter time.Duration) (Thresholds, error) {
	if warningAfter <= 0 || staleAfter <= 0 {
		return Thresholds{}, ErrValidation(CodeInvalidThresholds,
			"heartbeat thresholds must be positive")
	}
	if staleAfter < warningAfter {
		return Thresholds{}, ErrValidation(CodeInvalidThresholds,
			fmt.Sprintf("stale_after_seconds (%d) must be >= warning_after_seconds (%d)",
				int(staleAfter.Seconds()), int(warningAfter.Seconds())))
	}
	return Thresholds{WarningAfter: warningAfter, StaleAfter: staleAfter}, nil
}

// StaleReasonCode derives the deterministic reason code recorded when a
// run is classified STALE, expressed from the threshold in minutes.
func (t Thresholds) StaleReasonCode() string {
	return fmt.Sprintf("no_activity_over_%dm", int(t.StaleAfter.Minutes()))
}

// HeartbeatStatus is the singleton liveness document of a run.
type HeartbeatStatus struct {
	SchemaVersion       string         `json:"schema_version"`
	TaskID              string         `json:"task_id"`
	RunID               string         `json:"run_id"`
	Status              HeartbeatState `json:"status"`
	LastHeartbeatAt     *time.Time     `json:"last_heartbeat_at,omitempty"`
	ReasonCode          string         `json:"reason_code,omitempty"`
	WarningAfterSeconds int            `json:"warning_after_seconds"`
	StaleAfterSeconds   int            `json:"stale_after_seconds"`
	UpdatedAt           time.Time      `json:"updated_at"`
	LastEscalationAt    *time.Time     `json:"last_escalation_at,omitempty"`
}

// NewHeartbeatStatus creates the initial liveness document for a run.
func NewHeartbeatStatus(taskID, runID string, th Thresholds, now time.Time) *HeartbeatStatus {
	return &HeartbeatStatus{
		SchemaVersion:       SchemaVersion,
		TaskID:              taskID,
		RunID:               runID,
		Status:              HeartbeatIdle,
		WarningAfterSeconds: int(th.WarningAfter.Seconds()),
		StaleAfterSeconds:   int(th.StaleAfter.Seconds()),
		UpdatedAt:           now,
	}
}

// Validate checks the document's contract shape. The threshold ordering
// invariant is enforced at every write that carries both values.
func (h *HeartbeatStatus) Validate() error {
	if h.SchemaVersion != SchemaVersion {
		return ErrValidation(CodeContractViolation,
			fmt.Sprintf("heartbeat_status schema_version %q, want %q", h.SchemaVersion, SchemaVersion))
	}
	if h.TaskID == "" || h.RunID == "" {
		return ErrValidation(CodeContractViolation, "heartbeat_status task_id and run_id are required")
	}
	if !ValidHeartbeatState(h.Status) {
		return ErrValidation(CodeContractViolation,
			fmt.Sprintf("heartbeat status %q is not in the frozen enum", h.Status))
	}
	if h.StaleAfterSeconds < h.WarningAfterSeconds {
		return ErrValidation(CodeInvalidThresholds,
			fmt.Sprintf("stale_after_seconds (%d) must be >= warning_after_seconds (%d)",
				h.StaleAfterSeconds, h.WarningAfterSeconds))
	}
	return nil
}
