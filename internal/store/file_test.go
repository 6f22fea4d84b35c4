package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stewardlabs/steward/internal/core"
)

func testClock() *core.FrozenClock {
	return &core.FrozenClock{Instant: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func testPipelineState(taskID, runID string, clock core.Clock) *core.PipelineState {
	state := core.NewPipelineState(taskID, runID, "ship the feature", clock.Now())
	state.Steps = []*core.Step{
		{ID: "step-1", Title: "first", Goal: "do the first thing", AcceptanceCriteria: []string{"a file exists"}, Status: core.StepStatusPending},
		{ID: "step-2", Title: "second", Goal: "do the second thing", AcceptanceCriteria: []string{"tests pass"}, Status: core.StepStatusPending},
	}
	return state
}

func newTestFileStore(t *testing.T) (*FileStore, *core.FrozenClock) {
	t.Helper()
	clock := testClock()
	s, err := NewFileStore(t.TempDir(),
		WithFileClock(clock),
		WithFileIDSource(&core.SequenceIDSource{}))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return s, clock
}

func TestFileStore_SaveLoadState(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	state := testPipelineState("task-1", "run-1", clock)
	if err := s.SaveState(ctx, state, "plan", core.StatusPlanning, core.StatusAnalysis); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	loaded, err := s.LoadState(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if loaded.TaskID != "task-1" || loaded.RunID != "run-1" {
		t.Errorf("LoadState() = (%s, %s), want (task-1, run-1)", loaded.TaskID, loaded.RunID)
	}
	if !loaded.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("UpdatedAt = %v, want frozen %v", loaded.UpdatedAt, clock.Now())
	}
	if len(loaded.Steps) != 2 {
		t.Errorf("len(Steps) = %d, want 2", len(loaded.Steps))
	}
}

func TestFileStore_LoadState_MissingRun(t *testing.T) {
	s, _ := newTestFileStore(t)

	_, err := s.LoadState(context.Background(), "run-nope")
	if !core.HasCode(err, core.CodeRunNotFound) {
		t.Fatalf("LoadState() error = %v, want RUN_NOT_FOUND", err)
	}
}

func TestFileStore_LoadState_CorruptDocument(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	state := testPipelineState("task-1", "run-1", clock)
	if err := s.SaveState(ctx, state, "plan", core.StatusPlanning, core.StatusAnalysis); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	// Truncate the primary document mid-write style
	path := s.statePath("run-1")
	if err := os.WriteFile(path, []byte(`{"version":1,"checksum":"bogus"`), 0o644); err != nil {
		t.Fatalf("corrupting state file: %v", err)
	}

	_, err := s.LoadState(ctx, "run-1")
	if !core.HasCode(err, core.CodeStateCorrupted) {
		t.Fatalf("LoadState() error = %v, want STATE_CORRUPTED", err)
	}
}

func TestFileStore_LoadState_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	state := testPipelineState("task-1", "run-1", clock)
	if err := s.SaveState(ctx, state, "plan", core.StatusPlanning, core.StatusAnalysis); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	path := s.statePath("run-1")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading state file: %v", err)
	}
	// Flip the goal inside the payload without updating the checksum
	tampered := strings.Replace(string(data), "ship the feature", "ship the faeture", 1)
	if tampered == string(data) {
		t.Fatal("goal not found in document")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("writing tampered file: %v", err)
	}

	_, err = s.LoadState(ctx, "run-1")
	if !core.HasCode(err, core.CodeStateCorrupted) {
		t.Fatalf("LoadState() error = %v, want STATE_CORRUPTED", err)
	}
}

func TestFileStore_SaveState_KeepsBackup(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	state := testPipelineState("task-1", "run-1", clock)
	if err := s.SaveState(ctx, state, "plan", core.StatusPlanning, core.StatusAnalysis); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	first, err := os.ReadFile(s.statePath("run-1"))
	if err != nil {
		t.Fatalf("reading first document: %v", err)
	}

	clock.Advance(time.Minute)
	state.Status = core.StatusAnalysis
	if err := s.SaveState(ctx, state, "plan", core.StatusAnalysis, core.StatusFreeze); err != nil {
		t.Fatalf("SaveState() second write error = %v", err)
	}

	backup, err := os.ReadFile(s.statePath("run-1") + ".bak")
	if err != nil {
		t.Fatalf("reading backup: %v", err)
	}
	if string(backup) != string(first) {
		t.Error("backup does not match the previous document")
	}
}

func TestFileStore_SaveState_RejectsInvalid(t *testing.T) {
	s, clock := newTestFileStore(t)

	state := testPipelineState("task-1", "run-1", clock)
	state.Status = core.PipelineStatus("WAITING")
	err := s.SaveState(context.Background(), state, "plan", core.StatusPlanning, core.StatusAnalysis)
	if !core.HasCode(err, core.CodeContractViolation) {
		t.Fatalf("SaveState() error = %v, want CONTRACT_VIOLATION", err)
	}
	if _, statErr := os.Stat(s.statePath("run-1")); !os.IsNotExist(statErr) {
		t.Error("rejected write must not touch durable storage")
	}
}

func TestFileStore_Heartbeat_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	hb, err := s.LoadHeartbeat(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadHeartbeat() error = %v", err)
	}
	if hb != nil {
		t.Fatal("LoadHeartbeat() before first write should be nil")
	}

	th, err := core.NewThresholds(15*time.Minute, 20*time.Minute)
	if err != nil {
		t.Fatalf("NewThresholds() error = %v", err)
	}
	hb = core.NewHeartbeatStatus("task-1", "run-1", th, clock.Now())
	hb.Status = core.HeartbeatRunning
	if err := s.SaveHeartbeat(ctx, hb); err != nil {
		t.Fatalf("SaveHeartbeat() error = %v", err)
	}

	loaded, err := s.LoadHeartbeat(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadHeartbeat() error = %v", err)
	}
	if loaded.Status != core.HeartbeatRunning {
		t.Errorf("Status = %s, want RUNNING", loaded.Status)
	}
	if loaded.StaleAfterSeconds != 1200 {
		t.Errorf("StaleAfterSeconds = %d, want 1200", loaded.StaleAfterSeconds)
	}
}

func TestFileStore_AppendEvent_Dedup(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t)

	appendWarning := func(dedupKey string) {
		t.Helper()
		err := s.AppendEvent(ctx, "task-1", "run-1", "step-1",
			core.EventHeartbeatWarning, core.SeverityWarn, nil, dedupKey)
		if err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	appendWarning("warn-streak-1")
	appendWarning("warn-streak-1") // suppressed
	appendWarning("warn-streak-1") // suppressed

	events, err := s.ListEventsByTask(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("ListEventsByTask() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1 after dedup", len(events))
	}

	// A new streak key appends again
	appendWarning("warn-streak-2")
	events, err = s.ListEventsByTask(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("ListEventsByTask() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 after new streak", len(events))
	}
}

func TestFileStore_AppendEvent_DedupScopedToType(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t)

	if err := s.AppendEvent(ctx, "task-1", "run-1", "", core.EventHeartbeatWarning, core.SeverityWarn, nil, "k"); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	// Same key, different type: not a duplicate
	if err := s.AppendEvent(ctx, "task-1", "run-1", "", core.EventHeartbeatStale, core.SeverityError, nil, "k"); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	events, err := s.ListEventsByTask(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("ListEventsByTask() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
}

func TestFileStore_LoadLatestValidCheckpoint_SkipsCorrupt(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	state := testPipelineState("task-1", "run-1", clock)
	if err := s.SaveState(ctx, state, "plan", core.StatusPlanning, core.StatusAnalysis); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	clock.Advance(time.Minute)
	state.Status = core.StatusAnalysis
	if err := s.SaveState(ctx, state, "dispatch", core.StatusAnalysis, core.StatusFreeze); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	// Append a corrupt newest entry by hand
	if err := appendLine(s.snapshotsPath("run-1"), []byte(`{"node":"broken","state_copy"`)); err != nil {
		t.Fatalf("appending corrupt snapshot: %v", err)
	}

	cp, err := s.LoadLatestValidCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadLatestValidCheckpoint() error = %v", err)
	}
	if cp.Node != "dispatch" {
		t.Errorf("checkpoint node = %s, want the newest valid entry (dispatch)", cp.Node)
	}
	if cp.StateCopy.Status != core.StatusAnalysis {
		t.Errorf("checkpoint status = %s, want ANALYSIS", cp.StateCopy.Status)
	}
}

func TestFileStore_LoadLatestValidCheckpoint_NoneValid(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t)

	if err := os.MkdirAll(s.runDir("run-1"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := appendLine(s.snapshotsPath("run-1"), []byte(`not json at all`)); err != nil {
		t.Fatalf("appending corrupt snapshot: %v", err)
	}

	_, err := s.LoadLatestValidCheckpoint(ctx, "run-1")
	if !core.HasCode(err, core.CodeNoValidCheckpoint) {
		t.Fatalf("LoadLatestValidCheckpoint() error = %v, want NO_VALID_CHECKPOINT", err)
	}
}

func TestFileStore_ListSnapshots_AppendOrder(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	state := testPipelineState("task-1", "run-1", clock)
	nodes := []string{"plan", "dispatch", "verify"}
	transitions := [][2]core.PipelineStatus{
		{core.StatusPlanning, core.StatusAnalysis},
		{core.StatusAnalysis, core.StatusFreeze},
		{core.StatusFreeze, core.StatusExecute},
	}
	for i, node := range nodes {
		clock.Advance(time.Second)
		state.Status = transitions[i][1]
		if err := s.SaveState(ctx, state, node, transitions[i][0], transitions[i][1]); err != nil {
			t.Fatalf("SaveState(%s) error = %v", node, err)
		}
	}

	snapshots, err := s.ListSnapshots(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("len(snapshots) = %d, want 3", len(snapshots))
	}
	for i, sn := range snapshots {
		if sn.Node != nodes[i] {
			t.Errorf("snapshots[%d].Node = %s, want %s", i, sn.Node, nodes[i])
		}
	}
}

func TestFileStore_Leases_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	leases, err := s.LoadLeases(ctx)
	if err != nil {
		t.Fatalf("LoadLeases() error = %v", err)
	}
	if len(leases.Leases) != 0 {
		t.Fatal("fresh aggregate should be empty")
	}

	leases.Append("run-1", &core.Lease{
		HolderThreadID: "thread-a",
		HolderPID:      4242,
		AcquiredAt:     clock.Now(),
		TTLSeconds:     900,
		Status:         core.LeaseActive,
	})
	if err := s.SaveLeases(ctx, leases); err != nil {
		t.Fatalf("SaveLeases() error = %v", err)
	}

	loaded, err := s.LoadLeases(ctx)
	if err != nil {
		t.Fatalf("LoadLeases() error = %v", err)
	}
	active := loaded.ActiveLease("run-1")
	if active == nil || active.HolderThreadID != "thread-a" {
		t.Fatalf("ActiveLease() = %+v, want thread-a", active)
	}
}

func TestFileStore_ListSessions_Order(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	for _, runID := range []string{"run-a", "run-b", "run-c"} {
		clock.Advance(time.Minute)
		state := testPipelineState("task-1", runID, clock)
		if err := s.SaveState(ctx, state, "plan", core.StatusPlanning, core.StatusAnalysis); err != nil {
			t.Fatalf("SaveState(%s) error = %v", runID, err)
		}
	}

	summaries, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("len(summaries) = %d, want 3", len(summaries))
	}
	want := []string{"run-c", "run-b", "run-a"}
	for i, w := range want {
		if summaries[i].RunID != w {
			t.Errorf("summaries[%d].RunID = %s, want %s (newest first)", i, summaries[i].RunID, w)
		}
	}
}

func TestFileStore_ListSessions_SkipsCorruptRuns(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	state := testPipelineState("task-1", "run-good", clock)
	if err := s.SaveState(ctx, state, "plan", core.StatusPlanning, core.StatusAnalysis); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	badDir := filepath.Join(s.Root(), "runs", "run-bad")
	if err := os.MkdirAll(badDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(badDir, "pipeline_state.json"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("writing junk: %v", err)
	}

	summaries, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(summaries) != 1 || summaries[0].RunID != "run-good" {
		t.Fatalf("summaries = %+v, want only run-good", summaries)
	}
}

func TestFileStore_ListEventsByTask_Limit(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		if err := s.AppendEvent(ctx, "task-1", "run-1", "", core.EventSystem, core.SeverityInfo, nil, ""); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	events, err := s.ListEventsByTask(ctx, "task-1", 3)
	if err != nil {
		t.Fatalf("ListEventsByTask() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want limit 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Error("events not in timestamp order")
		}
	}
}

func TestFileStore_RejectsPathEscapingRunID(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	if _, err := s.LoadState(ctx, "../outside"); !core.HasCode(err, core.CodeRunNotFound) {
		t.Fatalf("LoadState() error = %v, want RUN_NOT_FOUND", err)
	}

	state := testPipelineState("task-1", "../outside", clock)
	if err := s.SaveState(ctx, state, "init", core.InitialStatus, core.InitialStatus); !core.HasCode(err, core.CodeContractViolation) {
		t.Fatalf("SaveState() error = %v, want CONTRACT_VIOLATION", err)
	}
}

func TestFileStore_LoadLatestValidCheckpoint_FallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestFileStore(t)

	state := testPipelineState("task-1", "run-1", clock)
	if err := s.SaveState(ctx, state, "init", core.InitialStatus, core.InitialStatus); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	clock.Advance(time.Minute)
	state.Status = core.StatusAnalysis
	if err := s.SaveState(ctx, state, "extract", core.StatusPlanning, core.StatusAnalysis); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	// Smash every snapshot so only the .bak remains usable.
	if err := os.WriteFile(s.snapshotsPath("run-1"), []byte("garbage\nmore garbage\n"), 0o600); err != nil {
		t.Fatalf("corrupting snapshots: %v", err)
	}

	cp, err := s.LoadLatestValidCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadLatestValidCheckpoint() error = %v", err)
	}
	if cp.Node != "backup" {
		t.Errorf("checkpoint node = %s, want backup", cp.Node)
	}
	if cp.StateCopy.Status != core.InitialStatus {
		t.Errorf("checkpoint status = %s, want the pre-overwrite document (PLANNING)", cp.StateCopy.Status)
	}
}
