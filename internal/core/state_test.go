package core

import (
	"testing"
	"time"
)

func testState() *PipelineState {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewPipelineState("task-1", "run-1", "ship the widget", now)
	s.Steps = []*Step{
		{ID: "s1", Title: "first", Goal: "do first", Status: StepStatusPending,
			AcceptanceCriteria: []string{"output non-empty"}},
		{ID: "s2", Title: "second", Goal: "do second", Status: StepStatusPending,
			AcceptanceCriteria: []string{"output non-empty"}, DependsOn: []string{"s1"}},
	}
	return s
}

func TestPipelineState_New(t *testing.T) {
	s := testState()
	if s.Status != StatusPlanning {
		t.Fatalf("expected initial status PLANNING, got %s", s.Status)
	}
	if s.SchemaVersion != SchemaVersion {
		t.Fatalf("expected pinned schema version, got %s", s.SchemaVersion)
	}
	if !s.Succession.Enabled {
		t.Fatalf("expected succession enabled by default")
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("fresh state should validate: %v", err)
	}
}

func TestPipelineState_ClaimStep(t *testing.T) {
	s := testState()
	if err := s.ClaimStep("alpha", "s1"); err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}

	want := map[string]string{
		"alpha_lane":      "alpha",
		"alpha_ownership": "alpha:s1",
		"lane:alpha":      "active_step:s1",
		"step:s1":         "owned_by_lane:alpha",
	}
	for k, v := range want {
		if s.RoleLifecycle[k] != v {
			t.Fatalf("role_lifecycle[%s] = %q, want %q", k, s.RoleLifecycle[k], v)
		}
	}

	// Re-claim by the same lane is idempotent.
	if err := s.ClaimStep("alpha", "s1"); err != nil {
		t.Fatalf("re-claim by owner should be a no-op: %v", err)
	}

	// A second lane cannot claim an owned step.
	err := s.ClaimStep("beta", "s1")
	if err == nil {
		t.Fatalf("expected cross-lane claim to fail")
	}
	if !HasCode(err, CodeStepAlreadyOwned) {
		t.Fatalf("expected %s, got %v", CodeStepAlreadyOwned, err)
	}
}

func TestPipelineState_StepsOwnedByLane(t *testing.T) {
	s := testState()
	if err := s.ClaimStep("alpha", "s1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ClaimStep("alpha", "s2"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	owned := s.StepsOwnedByLane("alpha")
	if len(owned) != 2 || owned[0] != "s1" || owned[1] != "s2" {
		t.Fatalf("expected [s1 s2] in plan order, got %v", owned)
	}
	if got := s.StepsOwnedByLane("beta"); len(got) != 0 {
		t.Fatalf("expected no steps for beta, got %v", got)
	}
}

func TestPipelineState_ValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PipelineState)
	}{
		{"wrong schema version", func(s *PipelineState) { s.SchemaVersion = "0.9.0" }},
		{"missing task id", func(s *PipelineState) { s.TaskID = "" }},
		{"missing run id", func(s *PipelineState) { s.RunID = "" }},
		{"status outside graph", func(s *PipelineState) { s.Status = "TURBO" }},
		{"dangling current step", func(s *PipelineState) { s.CurrentStep = "ghost" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testState()
			tt.mutate(s)
			err := s.Validate()
			if err == nil {
				t.Fatalf("expected validation failure")
			}
			if !IsCategory(err, ErrCatValidation) {
				t.Fatalf("expected validation category, got %v", err)
			}
		})
	}
}

func TestPipelineState_CloneIsDeep(t *testing.T) {
	s := testState()
	s.Analysis = &TaskAnalysis{Scope: "narrow", Risks: []string{"r1"}, Complexity: "low"}
	if err := s.ClaimStep("alpha", "s1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	cp := s.Clone()
	cp.Steps[0].Status = StepStatusCompleted
	cp.RoleLifecycle["lane:alpha"] = "mutated"
	cp.Analysis.Risks[0] = "mutated"

	if s.Steps[0].Status != StepStatusPending {
		t.Fatalf("clone leaked step mutation into original")
	}
	if s.RoleLifecycle["lane:alpha"] != "active_step:s1" {
		t.Fatalf("clone leaked role_lifecycle mutation into original")
	}
	if s.Analysis.Risks[0] != "r1" {
		t.Fatalf("clone leaked analysis mutation into original")
	}
}

func TestPipelineState_PendingSteps(t *testing.T) {
	s := testState()
	s.Steps[0].Status = StepStatusCompleted
	pending := s.PendingSteps()
	if len(pending) != 1 || pending[0].ID != "s2" {
		t.Fatalf("expected only s2 pending, got %v", pending)
	}
}

func TestSnapshot_Valid(t *testing.T) {
	sn := &Snapshot{Node: "plan", FromStatus: StatusAnalysis, ToStatus: StatusFreeze,
		StateCopy: testState(), Timestamp: time.Now()}
	if !sn.Valid() {
		t.Fatalf("expected snapshot to be valid")
	}

	sn.StateCopy.Status = "TURBO"
	if sn.Valid() {
		t.Fatalf("expected snapshot with invalid state copy to be rejected")
	}

	empty := &Snapshot{Node: "plan"}
	if empty.Valid() {
		t.Fatalf("expected snapshot without state copy to be rejected")
	}
}
