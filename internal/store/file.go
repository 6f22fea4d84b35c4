package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/fsutil"
)

// FileStore implements core.StateStore with plain files: one directory
// per run holding the pipeline_state and heartbeat_status documents plus
// append-only line-oriented event and snapshot logs, and a shared
// process_leases document at the root.
type FileStore struct {
	root      string
	clock     core.Clock
	ids       core.IDSource
	validator core.ContractValidator
	mu        sync.Mutex
}

// FileStoreOption configures the store.
type FileStoreOption func(*FileStore)

// WithFileClock sets the clock (frozen in tests).
func WithFileClock(c core.Clock) FileStoreOption {
	return func(s *FileStore) { s.clock = c }
}

// WithFileIDSource sets the id source.
func WithFileIDSource(ids core.IDSource) FileStoreOption {
	return func(s *FileStore) { s.ids = ids }
}

// WithFileValidator sets the contract validator.
func WithFileValidator(v core.ContractValidator) FileStoreOption {
	return func(s *FileStore) { s.validator = v }
}

// NewFileStore creates a file-backed store rooted at the given directory.
func NewFileStore(root string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		root:      root,
		clock:     core.SystemClock{},
		ids:       core.UUIDSource{},
		validator: NewValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Join(root, "runs"), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return s, nil
}

func (s *FileStore) runDir(runID string) string {
	return filepath.Join(s.root, "runs", runID)
}

func (s *FileStore) statePath(runID string) string {
	return filepath.Join(s.runDir(runID), "pipeline_state.json")
}

func (s *FileStore) heartbeatPath(runID string) string {
	return filepath.Join(s.runDir(runID), "heartbeat_status.json")
}

func (s *FileStore) eventsPath(runID string) string {
	return filepath.Join(s.runDir(runID), "events.ndjson")
}

func (s *FileStore) snapshotsPath(runID string) string {
	return filepath.Join(s.runDir(runID), "snapshots.ndjson")
}

func (s *FileStore) leasesPath() string {
	return filepath.Join(s.root, "process_leases.json")
}

// LoadState retrieves the pipeline state for a run. A document that is
// present but unreadable surfaces as STATE_CORRUPTED, never silently
// replaced; recovery goes through LoadLatestValidCheckpoint.
func (s *FileStore) LoadState(_ context.Context, runID string) (*core.PipelineState, error) {
	if !fsutil.SafeName(runID) {
		return nil, core.ErrState(core.CodeRunNotFound,
			fmt.Sprintf("run id %q is not a valid name", runID))
	}
	data, err := fsutil.ReadFileScoped(s.statePath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrState(core.CodeRunNotFound,
				fmt.Sprintf("no pipeline state for run %s", runID))
		}
		return nil, fmt.Errorf("reading pipeline state: %w", err)
	}
	return decodeState(data)
}

// SaveState validates, persists the document, and appends the transition
// snapshot. The previous document is kept as a .bak sibling; it is never
// consulted on ordinary loads, only as the last recovery resort.
func (s *FileStore) SaveState(_ context.Context, state *core.PipelineState, node string, from, to core.PipelineStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !fsutil.SafeName(state.RunID) {
		return core.ErrValidation(core.CodeContractViolation,
			fmt.Sprintf("run id %q is not a valid name", state.RunID))
	}
	state.UpdatedAt = s.clock.Now()
	if err := s.validator.Validate(SchemaPipelineState, state); err != nil {
		return err
	}

	dir := s.runDir(state.RunID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	path := s.statePath(state.RunID)
	if prev, err := os.ReadFile(path); err == nil {
		if err := atomicWriteFile(path+".bak", prev, 0o644); err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
	}

	data, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("marshaling pipeline state: %w", err)
	}
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing pipeline state: %w", err)
	}

	snapshot := &core.Snapshot{
		Node:       node,
		FromStatus: from,
		ToStatus:   to,
		StateCopy:  state.Clone(),
		Timestamp:  state.UpdatedAt,
	}
	line, err := encodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return appendLine(s.snapshotsPath(state.RunID), line)
}

// LoadHeartbeat returns the run's liveness document, or nil before the
// first write.
func (s *FileStore) LoadHeartbeat(_ context.Context, runID string) (*core.HeartbeatStatus, error) {
	if !fsutil.SafeName(runID) {
		return nil, core.ErrState(core.CodeRunNotFound,
			fmt.Sprintf("run id %q is not a valid name", runID))
	}
	data, err := fsutil.ReadFileScoped(s.heartbeatPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading heartbeat status: %w", err)
	}
	return decodeHeartbeat(data)
}

// SaveHeartbeat validates and persists the liveness document.
func (s *FileStore) SaveHeartbeat(_ context.Context, hb *core.HeartbeatStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hb.UpdatedAt = s.clock.Now()
	if err := s.validator.Validate(SchemaHeartbeatStatus, hb); err != nil {
		return err
	}
	if err := os.MkdirAll(s.runDir(hb.RunID), 0o750); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	data, err := encodeHeartbeat(hb)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat status: %w", err)
	}
	if err := atomicWriteFile(s.heartbeatPath(hb.RunID), data, 0o644); err != nil {
		return fmt.Errorf("writing heartbeat status: %w", err)
	}
	return nil
}

// AppendEvent appends to the run's event log with dedup suppression: a
// non-empty dedup key matching the most recent event of the same type for
// the run is an idempotent no-op.
func (s *FileStore) AppendEvent(_ context.Context, taskID, runID, stepID string, eventType core.EventType, severity core.Severity, payload map[string]any, dedupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupKey != "" {
		last, err := s.lastEventOfType(runID, eventType)
		if err != nil {
			return err
		}
		if last != nil && last.DedupKey == dedupKey {
			return nil
		}
	}

	event := &core.Event{
		EventID:   s.ids.NewEventID(),
		TaskID:    taskID,
		RunID:     runID,
		StepID:    stepID,
		Type:      eventType,
		Severity:  severity,
		Timestamp: s.clock.Now(),
		Payload:   payload,
		DedupKey:  dedupKey,
	}
	if err := s.validator.Validate(SchemaEvent, event); err != nil {
		return err
	}

	if err := os.MkdirAll(s.runDir(runID), 0o750); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	line, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return appendLine(s.eventsPath(runID), line)
}

func (s *FileStore) lastEventOfType(runID string, eventType core.EventType) (*core.Event, error) {
	lines, err := readLines(s.eventsPath(runID))
	if err != nil {
		return nil, err
	}
	for i := len(lines) - 1; i >= 0; i-- {
		e, err := decodeEvent(lines[i])
		if err != nil {
			continue
		}
		if e.Type == eventType {
			return e, nil
		}
	}
	return nil, nil
}

// ListSnapshots returns a run's snapshot history in append order,
// skipping entries that no longer parse.
func (s *FileStore) ListSnapshots(_ context.Context, runID string) ([]*core.Snapshot, error) {
	lines, err := readLines(s.snapshotsPath(runID))
	if err != nil {
		return nil, err
	}
	snapshots := make([]*core.Snapshot, 0, len(lines))
	for _, line := range lines {
		sn, err := decodeSnapshot(line)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, sn)
	}
	return snapshots, nil
}

// LoadLatestValidCheckpoint scans newest-first for the first snapshot
// whose state copy parses and validates.
func (s *FileStore) LoadLatestValidCheckpoint(_ context.Context, runID string) (*core.Snapshot, error) {
	lines, err := readLines(s.snapshotsPath(runID))
	if err != nil {
		return nil, err
	}
	for i := len(lines) - 1; i >= 0; i-- {
		sn, err := decodeSnapshot(lines[i])
		if err != nil {
			continue
		}
		if sn.Valid() {
			return sn, nil
		}
	}
	if sn := s.backupCheckpoint(runID); sn != nil {
		return sn, nil
	}
	return nil, core.ErrState(core.CodeNoValidCheckpoint,
		fmt.Sprintf("no valid checkpoint for run %s", runID))
}

// backupCheckpoint is the last resort when every snapshot is corrupt:
// the .bak sibling holds the document as it was before the final write.
func (s *FileStore) backupCheckpoint(runID string) *core.Snapshot {
	data, err := os.ReadFile(s.statePath(runID) + ".bak")
	if err != nil {
		return nil
	}
	state, err := decodeState(data)
	if err != nil || state.Validate() != nil {
		return nil
	}
	return &core.Snapshot{
		Node:       "backup",
		FromStatus: state.Status,
		ToStatus:   state.Status,
		StateCopy:  state,
		Timestamp:  state.UpdatedAt,
	}
}

// LoadLeases returns the lease aggregate, creating an empty one on first
// access.
func (s *FileStore) LoadLeases(_ context.Context) (*core.ProcessLeases, error) {
	data, err := os.ReadFile(s.leasesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return core.NewProcessLeases(s.clock.Now()), nil
		}
		return nil, fmt.Errorf("reading process leases: %w", err)
	}
	return decodeLeases(data)
}

// SaveLeases validates and persists the lease aggregate atomically; the
// rename is the compare-free equivalent of a whole-document swap.
func (s *FileStore) SaveLeases(_ context.Context, leases *core.ProcessLeases) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	leases.UpdatedAt = s.clock.Now()
	if err := s.validator.Validate(SchemaProcessLeases, leases); err != nil {
		return err
	}
	data, err := encodeLeases(leases)
	if err != nil {
		return fmt.Errorf("marshaling process leases: %w", err)
	}
	return atomicWriteFile(s.leasesPath(), data, 0o644)
}

// ListSessions returns summaries of all runs, most recently updated
// first. Runs whose primary document is unreadable are skipped.
func (s *FileStore) ListSessions(ctx context.Context) ([]core.RunSummary, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var summaries []core.RunSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := s.LoadState(ctx, entry.Name())
		if err != nil {
			continue
		}
		summaries = append(summaries, core.RunSummary{
			TaskID:    state.TaskID,
			RunID:     state.RunID,
			Status:    state.Status,
			Goal:      state.Goal,
			CreatedAt: state.CreatedAt,
			UpdatedAt: state.UpdatedAt,
		})
	}
	sortSummaries(summaries)
	return summaries, nil
}

// ListEventsByTask returns events for a task in log order across runs.
func (s *FileStore) ListEventsByTask(_ context.Context, taskID string, limit int) ([]*core.Event, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var events []*core.Event
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		lines, err := readLines(s.eventsPath(entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			e, err := decodeEvent(line)
			if err != nil {
				continue
			}
			if e.TaskID == taskID {
				events = append(events, e)
			}
		}
	}
	sortEvents(events)
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}
	return nil
}

func readLines(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log: %w", err)
	}
	raw := bytes.Split(data, []byte("\n"))
	lines := make([][]byte, 0, len(raw))
	for _, l := range raw {
		if len(bytes.TrimSpace(l)) > 0 {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// sortSummaries orders by updated_at descending with run id as the
// deterministic tie-break, matching the SQLite backend's ORDER BY.
func sortSummaries(summaries []core.RunSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].RunID < summaries[j].RunID
	})
}

// sortEvents orders by timestamp then event id, matching the SQLite
// backend's ORDER BY for cross-backend equivalence.
func sortEvents(events []*core.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].EventID < events[j].EventID
	})
}

var _ core.StateStore = (*FileStore)(nil)
