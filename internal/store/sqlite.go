package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stewardlabs/steward/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.StateStore on SQLite. Documents are stored
// as the same canonical JSON the file backend writes, in doc columns;
// the extracted columns exist only for querying and ordering, so both
// backends return byte-identical documents for identical operation
// sequences.
type SQLiteStore struct {
	dbPath    string
	db        *sql.DB
	clock     core.Clock
	ids       core.IDSource
	validator core.ContractValidator
	mu        sync.RWMutex
}

// SQLiteStoreOption configures the store.
type SQLiteStoreOption func(*SQLiteStore)

// WithSQLiteClock sets the clock (frozen in tests).
func WithSQLiteClock(c core.Clock) SQLiteStoreOption {
	return func(s *SQLiteStore) { s.clock = c }
}

// WithSQLiteIDSource sets the id source.
func WithSQLiteIDSource(ids core.IDSource) SQLiteStoreOption {
	return func(s *SQLiteStore) { s.ids = ids }
}

// WithSQLiteValidator sets the contract validator.
func WithSQLiteValidator(v core.ContractValidator) SQLiteStoreOption {
	return func(s *SQLiteStore) { s.validator = v }
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// runs pending migrations.
func NewSQLiteStore(dbPath string, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		dbPath:    dbPath,
		clock:     core.SystemClock{},
		ids:       core.UUIDSource{},
		validator: NewValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

func dbTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// LoadState retrieves the pipeline state for a run.
func (s *SQLiteStore) LoadState(ctx context.Context, runID string) (*core.PipelineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM pipeline_states WHERE run_id = ?", runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, core.ErrState(core.CodeRunNotFound,
			fmt.Sprintf("no pipeline state for run %s", runID))
	}
	if err != nil {
		return nil, fmt.Errorf("querying pipeline state: %w", err)
	}
	return decodeState([]byte(doc))
}

// SaveState upserts the document and appends the transition snapshot in
// one transaction.
func (s *SQLiteStore) SaveState(ctx context.Context, state *core.PipelineState, node string, from, to core.PipelineStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = s.clock.Now()
	if err := s.validator.Validate(SchemaPipelineState, state); err != nil {
		return err
	}

	doc, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("marshaling pipeline state: %w", err)
	}

	snapshot := &core.Snapshot{
		Node:       node,
		FromStatus: from,
		ToStatus:   to,
		StateCopy:  state.Clone(),
		Timestamp:  state.UpdatedAt,
	}
	snapshotDoc, err := encodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_states (run_id, task_id, status, created_at, updated_at, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			task_id = excluded.task_id,
			status = excluded.status,
			updated_at = excluded.updated_at,
			doc = excluded.doc
	`, state.RunID, state.TaskID, string(state.Status),
		dbTime(state.CreatedAt), dbTime(state.UpdatedAt), string(doc))
	if err != nil {
		return fmt.Errorf("upserting pipeline state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, node, from_status, to_status, timestamp, doc)
		VALUES (?, ?, ?, ?, ?, ?)
	`, state.RunID, node, string(from), string(to),
		dbTime(snapshot.Timestamp), string(snapshotDoc))
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LoadHeartbeat returns the run's liveness document, or nil before the
// first write.
func (s *SQLiteStore) LoadHeartbeat(ctx context.Context, runID string) (*core.HeartbeatStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM heartbeat_status WHERE run_id = ?", runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying heartbeat status: %w", err)
	}
	return decodeHeartbeat([]byte(doc))
}

// SaveHeartbeat validates and upserts the liveness document.
func (s *SQLiteStore) SaveHeartbeat(ctx context.Context, hb *core.HeartbeatStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hb.UpdatedAt = s.clock.Now()
	if err := s.validator.Validate(SchemaHeartbeatStatus, hb); err != nil {
		return err
	}
	doc, err := encodeHeartbeat(hb)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat status: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO heartbeat_status (run_id, state, updated_at, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at,
			doc = excluded.doc
	`, hb.RunID, string(hb.Status), dbTime(hb.UpdatedAt), string(doc))
	if err != nil {
		return fmt.Errorf("upserting heartbeat status: %w", err)
	}
	return nil
}

// AppendEvent inserts into the event log with the same dedup suppression
// as the file backend.
func (s *SQLiteStore) AppendEvent(ctx context.Context, taskID, runID, stepID string, eventType core.EventType, severity core.Severity, payload map[string]any, dedupKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupKey != "" {
		var lastKey sql.NullString
		err := s.db.QueryRowContext(ctx, `
			SELECT dedup_key FROM events
			WHERE run_id = ? AND event_type = ?
			ORDER BY seq DESC LIMIT 1
		`, runID, string(eventType)).Scan(&lastKey)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("querying last event: %w", err)
		}
		if lastKey.Valid && lastKey.String == dedupKey {
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
	doc, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, task_id, run_id, step_id, event_type, severity, timestamp, dedup_key, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.EventID, taskID, runID, stepID, string(eventType), string(severity),
		dbTime(event.Timestamp), dedupKey, string(doc))
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// ListSnapshots returns a run's snapshot history in append order,
// skipping entries that no longer parse.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, runID string) ([]*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM snapshots WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*core.Snapshot
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		sn, err := decodeSnapshot([]byte(doc))
		if err != nil {
			continue
		}
		snapshots = append(snapshots, sn)
	}
	return snapshots, rows.Err()
}

// LoadLatestValidCheckpoint scans newest-first for the first snapshot
// whose state copy parses and validates.
func (s *SQLiteStore) LoadLatestValidCheckpoint(ctx context.Context, runID string) (*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM snapshots WHERE run_id = ? ORDER BY seq DESC", runID)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		sn, err := decodeSnapshot([]byte(doc))
		if err != nil {
			continue
		}
		if sn.Valid() {
			return sn, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, core.ErrState(core.CodeNoValidCheckpoint,
		fmt.Sprintf("no valid checkpoint for run %s", runID))
}

// LoadLeases returns the lease aggregate, creating an empty one on first
// access.
func (s *SQLiteStore) LoadLeases(ctx context.Context) (*core.ProcessLeases, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM process_leases WHERE id = 1").Scan(&doc)
	if err == sql.ErrNoRows {
		return core.NewProcessLeases(s.clock.Now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying process leases: %w", err)
	}
	return decodeLeases([]byte(doc))
}

// SaveLeases validates and upserts the single-row lease aggregate.
func (s *SQLiteStore) SaveLeases(ctx context.Context, leases *core.ProcessLeases) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	leases.UpdatedAt = s.clock.Now()
	if err := s.validator.Validate(SchemaProcessLeases, leases); err != nil {
		return err
	}
	doc, err := encodeLeases(leases)
	if err != nil {
		return fmt.Errorf("marshaling process leases: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_leases (id, updated_at, doc)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			doc = excluded.doc
	`, dbTime(leases.UpdatedAt), string(doc))
	if err != nil {
		return fmt.Errorf("upserting process leases: %w", err)
	}
	return nil
}

// ListSessions returns summaries of all runs, most recently updated
// first with run id as the deterministic tie-break.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]core.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM pipeline_states ORDER BY updated_at DESC, run_id ASC")
	if err != nil {
		return nil, fmt.Errorf("querying pipeline states: %w", err)
	}
	defer rows.Close()

	var summaries []core.RunSummary
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning pipeline state: %w", err)
		}
		state, err := decodeState([]byte(doc))
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
	return summaries, rows.Err()
}

// ListEventsByTask returns events for a task ordered by timestamp then
// event id, matching the file backend's sort.
func (s *SQLiteStore) ListEventsByTask(ctx context.Context, taskID string, limit int) ([]*core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT doc FROM events WHERE task_id = ? ORDER BY timestamp, event_id"
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*core.Event
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e, err := decodeEvent([]byte(doc))
		if err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ core.StateStore = (*SQLiteStore)(nil)
var _ core.Closeable = (*SQLiteStore)(nil)
