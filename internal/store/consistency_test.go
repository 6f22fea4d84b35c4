package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stewardlabs/steward/internal/core"
)

// The two backends must be observationally interchangeable: with a frozen
// clock and a deterministic id source, the same operation sequence yields
// byte-identical persisted documents. These tests drive both backends in
// lockstep and compare raw document bytes, not just decoded structs.

type backendPair struct {
	file   *FileStore
	sqlite *SQLiteStore
}

func newBackendPair(t *testing.T) backendPair {
	t.Helper()
	fileClock := testClock()
	sqliteClock := testClock()

	file, err := NewFileStore(t.TempDir(),
		WithFileClock(fileClock),
		WithFileIDSource(&core.SequenceIDSource{}))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "steward.db"),
		WithSQLiteClock(sqliteClock),
		WithSQLiteIDSource(&core.SequenceIDSource{}))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return backendPair{file: file, sqlite: sqlite}
}

func (p backendPair) each(t *testing.T, op func(s core.StateStore) error) {
	t.Helper()
	if err := op(p.file); err != nil {
		t.Fatalf("file backend: %v", err)
	}
	if err := op(p.sqlite); err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
}

func (p backendPair) stateDocs(t *testing.T, runID string) (string, string) {
	t.Helper()
	fileDoc, err := os.ReadFile(p.file.statePath(runID))
	if err != nil {
		t.Fatalf("reading file-backend document: %v", err)
	}
	var sqliteDoc string
	err = p.sqlite.db.QueryRow(
		"SELECT doc FROM pipeline_states WHERE run_id = ?", runID).Scan(&sqliteDoc)
	if err != nil {
		t.Fatalf("reading sqlite-backend document: %v", err)
	}
	return string(fileDoc), sqliteDoc
}

func TestBackends_StateDocuments_ByteIdentical(t *testing.T) {
	ctx := context.Background()
	p := newBackendPair(t)

	p.each(t, func(s core.StateStore) error {
		state := testPipelineState("task-1", "run-1", testClock())
		if err := state.ClaimStep("builder", "step-1"); err != nil {
			return err
		}
		return s.SaveState(ctx, state, "plan", core.StatusPlanning, core.StatusAnalysis)
	})

	fileDoc, sqliteDoc := p.stateDocs(t, "run-1")
	if fileDoc != sqliteDoc {
		t.Errorf("pipeline_state documents differ between backends\nfile:\n%s\nsqlite:\n%s", fileDoc, sqliteDoc)
	}
}

func TestBackends_EventLog_Identical(t *testing.T) {
	ctx := context.Background()
	p := newBackendPair(t)

	ops := []struct {
		stepID   string
		typ      core.EventType
		severity core.Severity
		dedupKey string
	}{
		{"step-1", core.EventStepStarted, core.SeverityInfo, ""},
		{"step-1", core.EventHeartbeatWarning, core.SeverityWarn, "warn-1"},
		{"step-1", core.EventHeartbeatWarning, core.SeverityWarn, "warn-1"}, // suppressed on both
		{"step-1", core.EventStepCompleted, core.SeverityInfo, ""},
	}
	p.each(t, func(s core.StateStore) error {
		for _, op := range ops {
			err := s.AppendEvent(ctx, "task-1", "run-1", op.stepID, op.typ, op.severity, nil, op.dedupKey)
			if err != nil {
				return err
			}
		}
		return nil
	})

	fileEvents, err := p.file.ListEventsByTask(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("file ListEventsByTask() error = %v", err)
	}
	sqliteEvents, err := p.sqlite.ListEventsByTask(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("sqlite ListEventsByTask() error = %v", err)
	}

	if len(fileEvents) != 3 || len(sqliteEvents) != 3 {
		t.Fatalf("event counts = (%d, %d), want (3, 3): dedup must suppress identically",
			len(fileEvents), len(sqliteEvents))
	}
	for i := range fileEvents {
		fileLine, _ := json.Marshal(fileEvents[i])
		sqliteLine, _ := json.Marshal(sqliteEvents[i])
		if string(fileLine) != string(sqliteLine) {
			t.Errorf("event %d differs\nfile:   %s\nsqlite: %s", i, fileLine, sqliteLine)
		}
	}
}

func TestBackends_Checkpoints_Identical(t *testing.T) {
	ctx := context.Background()
	p := newBackendPair(t)

	run := func(s core.StateStore, clock *core.FrozenClock) error {
		state := testPipelineState("task-1", "run-1", clock)
		transitions := []struct {
			node     string
			from, to core.PipelineStatus
		}{
			{"plan", core.StatusPlanning, core.StatusAnalysis},
			{"dispatch", core.StatusAnalysis, core.StatusFreeze},
			{"verify", core.StatusFreeze, core.StatusExecute},
		}
		for _, tr := range transitions {
			clock.Advance(time.Second)
			state.Status = tr.to
			if err := s.SaveState(ctx, state, tr.node, tr.from, tr.to); err != nil {
				return err
			}
		}
		return nil
	}

	if err := run(p.file, p.file.clock.(*core.FrozenClock)); err != nil {
		t.Fatalf("file backend: %v", err)
	}
	if err := run(p.sqlite, p.sqlite.clock.(*core.FrozenClock)); err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}

	fileCP, err := p.file.LoadLatestValidCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("file checkpoint: %v", err)
	}
	sqliteCP, err := p.sqlite.LoadLatestValidCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("sqlite checkpoint: %v", err)
	}

	fileDoc, _ := encodeSnapshot(fileCP)
	sqliteDoc, _ := encodeSnapshot(sqliteCP)
	if string(fileDoc) != string(sqliteDoc) {
		t.Errorf("checkpoints differ\nfile:   %s\nsqlite: %s", fileDoc, sqliteDoc)
	}
	if fileCP.ToStatus != core.StatusExecute {
		t.Errorf("checkpoint to_status = %s, want EXECUTE", fileCP.ToStatus)
	}
}

func TestBackends_LeaseDocuments_ByteIdentical(t *testing.T) {
	ctx := context.Background()
	p := newBackendPair(t)

	makeLeases := func(now time.Time) *core.ProcessLeases {
		pl := core.NewProcessLeases(now)
		pl.Append("run-1", &core.Lease{
			HolderThreadID: "thread-a", HolderPID: 100, AcquiredAt: now,
			TTLSeconds: 900, Status: core.LeaseTakenOver,
		})
		pl.Append("run-1", &core.Lease{
			HolderThreadID: "thread-b", HolderPID: 200, AcquiredAt: now.Add(time.Minute),
			TTLSeconds: 900, Status: core.LeaseActive,
		})
		return pl
	}
	p.each(t, func(s core.StateStore) error {
		return s.SaveLeases(ctx, makeLeases(testClock().Now()))
	})

	fileDoc, err := os.ReadFile(p.file.leasesPath())
	if err != nil {
		t.Fatalf("reading file-backend leases: %v", err)
	}
	var sqliteDoc string
	if err := p.sqlite.db.QueryRow("SELECT doc FROM process_leases WHERE id = 1").Scan(&sqliteDoc); err != nil {
		t.Fatalf("reading sqlite-backend leases: %v", err)
	}
	if string(fileDoc) != sqliteDoc {
		t.Errorf("process_leases documents differ\nfile:\n%s\nsqlite:\n%s", fileDoc, sqliteDoc)
	}
}

func TestBackends_HeartbeatDocuments_ByteIdentical(t *testing.T) {
	ctx := context.Background()
	p := newBackendPair(t)

	th, err := core.NewThresholds(15*time.Minute, 20*time.Minute)
	if err != nil {
		t.Fatalf("NewThresholds() error = %v", err)
	}

	p.each(t, func(s core.StateStore) error {
		clock := testClock()
		hb := core.NewHeartbeatStatus("task-1", "run-1", th, clock.Now())
		beat := clock.Now()
		hb.Status = core.HeartbeatRunning
		hb.LastHeartbeatAt = &beat
		return s.SaveHeartbeat(ctx, hb)
	})

	fileDoc, err := os.ReadFile(p.file.heartbeatPath("run-1"))
	if err != nil {
		t.Fatalf("reading file-backend document: %v", err)
	}
	var sqliteDoc, sqliteState string
	err = p.sqlite.db.QueryRow(
		"SELECT state, doc FROM heartbeat_status WHERE run_id = ?", "run-1").Scan(&sqliteState, &sqliteDoc)
	if err != nil {
		t.Fatalf("reading sqlite-backend document: %v", err)
	}
	if string(fileDoc) != sqliteDoc {
		t.Errorf("heartbeat_status documents differ between backends\nfile:\n%s\nsqlite:\n%s", fileDoc, sqliteDoc)
	}
	if sqliteState != string(core.HeartbeatRunning) {
		t.Errorf("sqlite state column = %s, want RUNNING", sqliteState)
	}

	fileHB, err := p.file.LoadHeartbeat(ctx, "run-1")
	if err != nil {
		t.Fatalf("file LoadHeartbeat() error = %v", err)
	}
	sqliteHB, err := p.sqlite.LoadHeartbeat(ctx, "run-1")
	if err != nil {
		t.Fatalf("sqlite LoadHeartbeat() error = %v", err)
	}
	if fileHB.Status != sqliteHB.Status || !fileHB.UpdatedAt.Equal(sqliteHB.UpdatedAt) {
		t.Errorf("decoded heartbeats differ: file %+v, sqlite %+v", fileHB, sqliteHB)
	}
}
