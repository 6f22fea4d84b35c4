package core

import (
	"fmt"
	"sort"
	"strings"
)

// PipelineStatus represents the current state of a pipeline run.
type PipelineStatus string

const (
	StatusPlanning PipelineStatus = "PLANNING"
	StatusAnalysis PipelineStatus = "ANALYSIS"
	StatusFreeze   PipelineStatus = "FREEZE"
	StatusExecute  PipelineStatus = "EXECUTE"
	StatusAccept   PipelineStatus = "ACCEPT"
	StatusDone     PipelineStatus = "DONE"
	StatusDraining PipelineStatus = "DRAINING"
	StatusBlocked  PipelineStatus = "BLOCKED"
	StatusFailed   PipelineStatus = "FAILED"
)

// InitialStatus is the status of every freshly created run.
const InitialStatus = StatusPlanning

// transitionTable is the fixed adjacency table of the pipeline state
// machine. DRAINING and BLOCKED are recoverable holding states: both may
// re-enter EXECUTE once the blocking condition clears.
var transitionTable = map[PipelineStatus][]PipelineStatus{
	StatusPlanning: {StatusAnalysis, StatusFailed},
	StatusAnalysis: {StatusFreeze, StatusBlocked, StatusFailed},
	StatusFreeze:   {StatusExecute, StatusDraining, StatusFailed},
	StatusExecute:  {StatusAccept, StatusBlocked, StatusDraining, StatusFailed},
	StatusAccept:   {StatusDone, StatusExecute, StatusBlocked},
	StatusDraining: {StatusExecute, StatusFailed},
	StatusBlocked:  {StatusExecute, StatusFailed},
	StatusDone:     {},
	StatusFailed:   {},
}

// AllStatuses returns every status in the transition graph's node set.
func AllStatuses() []PipelineStatus {
	return []PipelineStatus{
		StatusPlanning, StatusAnalysis, StatusFreeze, StatusExecute,
		StatusAccept, StatusDone, StatusDraining, StatusBlocked, StatusFailed,
	}
}

// ValidStatus checks whether a status is a member of the graph's node set.
func ValidStatus(s PipelineStatus) bool {
	_, ok := transitionTable[s]
	return ok
}

// IsTerminal reports whether the status has no outgoing edges.
func (s PipelineStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// String returns the string representation of the status.
func (s PipelineStatus) String() string {
	return string(s)
}

// ParseStatus converts a string to a PipelineStatus with validation.
func ParseStatus(s string) (PipelineStatus, error) {
	ps := PipelineStatus(s)
	if !ValidStatus(ps) {
		return "", fmt.Errorf("invalid pipeline status: %s", s)
	}
	return ps, nil
}

// AllowedTargets returns the legal next statuses for a status, sorted
// lexicographically. The sorted order is part of the diagnostic contract
// of CheckTransition and must not change.
func AllowedTargets(from PipelineStatus) []PipelineStatus {
	targets := transitionTable[from]
	out := make([]PipelineStatus, len(targets))
	copy(out, targets)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanTransition reports whether from→to is an edge of the graph.
func CanTransition(from, to PipelineStatus) bool {
	for _, t := range transitionTable[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CheckTransition validates a proposed transition. On an illegal edge it
// returns an ILLEGAL_TRANSITION error naming the current status, the
// attempted target, and the full allowed-target set in sorted order.
func CheckTransition(from, to PipelineStatus) error {
	if !ValidStatus(from) {
		return ErrTransition("ILLEGAL_TRANSITION",
			fmt.Sprintf("unknown current status %q", from))
	}
	if !ValidStatus(to) {
		return ErrTransition("ILLEGAL_TRANSITION",
			fmt.Sprintf("unknown target status %q", to))
	}
	if CanTransition(from, to) {
		return nil
	}

	allowed := AllowedTargets(from)
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return ErrTransition("ILLEGAL_TRANSITION",
		fmt.Sprintf("cannot transition from %s to %s (allowed: %s)",
			from, to, strings.Join(names, ", "))).
		WithDetail("current_status", string(from)).
		WithDetail("attempted_target", string(to)).
		WithDetail("allowed_targets", names)
}
