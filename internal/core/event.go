package core

import (
	"fmt"
	"time"
)

// EventType identifies the kind of an event-log entry. The set is frozen
// as part of the on-disk compatibility contract.
type EventType string

const (
	EventStepStarted      EventType = "STEP_STARTED"
	EventStepCompleted    EventType = "STEP_COMPLETED"
	EventStepFailed       EventType = "STEP_FAILED"
	EventAcceptancePassed EventType = "ACCEPTANCE_PASSED"
	EventAcceptanceFailed EventType = "ACCEPTANCE_FAILED"
	EventHeartbeatWarning EventType = "HEARTBEAT_WARNING"
	EventHeartbeatStale   EventType = "HEARTBEAT_STALE"
	EventLeaseTakeover    EventType = "LEASE_TAKEOVER"
	EventSystem           EventType = "SYSTEM"
)

// ValidEventType checks membership in the frozen enum.
func ValidEventType(t EventType) bool {
	switch t {
	case EventStepStarted, EventStepCompleted, EventStepFailed,
		EventAcceptancePassed, EventAcceptanceFailed,
		EventHeartbeatWarning, EventHeartbeatStale,
		EventLeaseTakeover, EventSystem:
		return true
	}
	return false
}

// Severity classifies an event for operators.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// ValidSeverity checks membership in the frozen enum.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityError:
		return true
	}
	return false
}

// Event is one immutable entry of the append-only event log. Log order is
// the total order of observable causality for a run.
type Event struct {
	EventID   string         `json:"event_id"`
	TaskID    string         `json:"task_id"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Type      EventType      `json:"event_type"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	DedupKey  string         `json:"dedup_key,omitempty"`
}

// Validate checks the event's contract shape before persistence.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return ErrValidation(CodeContractViolation, "event event_id is required")
	}
	if e.TaskID == "" || e.RunID == "" {
		return ErrValidation(CodeContractViolation, "event task_id and run_id are required")
	}
	if !ValidEventType(e.Type) {
		return ErrValidation(CodeContractViolation,
			fmt.Sprintf("event_type %q is not in the frozen enum", e.Type))
	}
	if !ValidSeverity(e.Severity) {
		return ErrValidation(CodeContractViolation,
			fmt.Sprintf("severity %q is not in the frozen enum", e.Severity))
	}
	return nil
}
