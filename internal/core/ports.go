package core

import (
	"context"
	"time"
)

// =============================================================================
// StateStore Port
// =============================================================================

// StateStore defines the contract for durable pipeline persistence. Every
// backend must implement these operations with identical observable
// behavior: given the same operation sequence under a frozen clock and
// frozen id source, backends produce byte-identical documents and
// identical query results.
type StateStore interface {
	// LoadState retrieves the pipeline state for a run. A document that
	// exists but is unreadable yields a STATE_CORRUPTED error; a missing
	// run yields RUN_NOT_FOUND.
	LoadState(ctx context.Context, runID string) (*PipelineState, error)

	// SaveState validates the document shape, persists it, and appends a
	// snapshot tagged with the transition node and edge. The write is
	// rejected before touching storage when validation fails.
	SaveState(ctx context.Context, state *PipelineState, node string, from, to PipelineStatus) error

	// LoadHeartbeat retrieves the liveness document for a run, or nil if
	// none has been written yet.
	LoadHeartbeat(ctx context.Context, runID string) (*HeartbeatStatus, error)

	// SaveHeartbeat validates and persists the liveness document.
	SaveHeartbeat(ctx context.Context, hb *HeartbeatStatus) error

	// AppendEvent appends to the event log. A non-empty dedupKey equal to
	// the dedup key of the most recent event of the same type for the run
	// is an idempotent no-op; a different or absent key always appends.
	AppendEvent(ctx context.Context, taskID, runID, stepID string, eventType EventType, severity Severity, payload map[string]any, dedupKey string) error

	// ListSnapshots returns the full snapshot history of a run in append
	// order.
	ListSnapshots(ctx context.Context, runID string) ([]*Snapshot, error)

	// LoadLatestValidCheckpoint scans the snapshot history newest-first
	// and returns the first entry that parses and validates, skipping
	// corrupt entries. NO_VALID_CHECKPOINT when none qualifies.
	LoadLatestValidCheckpoint(ctx context.Context, runID string) (*Snapshot, error)

	// LoadLeases retrieves the lease aggregate, creating an empty one on
	// first access.
	LoadLeases(ctx context.Context) (*ProcessLeases, error)

	// SaveLeases validates and persists the lease aggregate.
	SaveLeases(ctx context.Context, leases *ProcessLeases) error

	// ListSessions returns summaries of all known runs, newest first.
	ListSessions(ctx context.Context) ([]RunSummary, error)

	// ListEventsByTask returns events for a task in log order, capped at
	// limit when limit > 0.
	ListEventsByTask(ctx context.Context, taskID string, limit int) ([]*Event, error)
}

// Closeable is an optional interface for stores that need cleanup.
type Closeable interface {
	Close() error
}

// CloseStore safely closes a StateStore if it implements Closeable.
func CloseStore(s StateStore) error {
	if c, ok := s.(Closeable); ok {
		return c.Close()
	}
	return nil
}

// =============================================================================
// Dispatcher Port
// =============================================================================

// DispatchStatus is the structured outcome of an external execution.
type DispatchStatus string

const (
	DispatchCompleted DispatchStatus = "completed"
	DispatchTimeout   DispatchStatus = "timeout"
	DispatchError     DispatchStatus = "error"
)

// DispatchRequest hands one step to the external execution collaborator.
type DispatchRequest struct {
	TaskID  string
	RunID   string
	Step    *Step
	Lane    string
	Timeout time.Duration
}

// DispatchResult is the collaborator's structured, non-fatal outcome.
// Timeouts and errors are returned here, never raised as generic faults.
type DispatchResult struct {
	Status DispatchStatus
	Output string
	Error  string
}

// Dispatcher executes a step's work out of process. The call may block
// for the step's duration, bounded by the request timeout; on timeout it
// returns a DispatchTimeout status without corrupting any persisted state.
type Dispatcher interface {
	Execute(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}

// =============================================================================
// Contract-validation boundary
// =============================================================================

// ContractValidator is the narrow schema-validation boundary. The default
// implementation performs shape checks on the known document set; richer
// JSON-schema engines can be substituted without touching callers.
type ContractValidator interface {
	Validate(schemaName string, doc any) error
}

// =============================================================================
// Determinism seams
// =============================================================================

// Clock abstracts time for deterministic tests and backend-equivalence
// verification.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// IDSource abstracts id generation so two backends fed the same sequence
// emit identical documents.
type IDSource interface {
	NewEventID() string
	NewRunID() string
}

// Capabilities describes optional facilities probed once at startup and
// threaded through constructors, never read from globals.
type Capabilities struct {
	SQLiteBackend bool
	GraphEngine   bool
}
