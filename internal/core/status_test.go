package core

import (
	"errors"
	"strings"
	"testing"
)

func TestStatus_TransitionTableIsExhaustive(t *testing.T) {
	// Every reachable (status, target) pair succeeds iff target is in the
	// fixed adjacency set for that status.
	for _, from := range AllStatuses() {
		allowed := make(map[PipelineStatus]bool)
		for _, to := range AllowedTargets(from) {
			allowed[to] = true
		}
		for _, to := range AllStatuses() {
			err := CheckTransition(from, to)
			if allowed[to] && err != nil {
				t.Fatalf("expected %s -> %s to be legal, got %v", from, to, err)
			}
			if !allowed[to] && err == nil {
				t.Fatalf("expected %s -> %s to be illegal", from, to)
			}
		}
	}
}

func TestStatus_TerminalStatesHaveNoEdges(t *testing.T) {
	for _, s := range []PipelineStatus{StatusDone, StatusFailed} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
		if got := AllowedTargets(s); len(got) != 0 {
			t.Fatalf("expected no targets from %s, got %v", s, got)
		}
	}
	if StatusDraining.IsTerminal() || StatusBlocked.IsTerminal() {
		t.Fatalf("DRAINING and BLOCKED are holding states, not terminal")
	}
}

func TestStatus_IllegalTransitionDiagnostic(t *testing.T) {
	err := CheckTransition(StatusExecute, StatusDone)
	if err == nil {
		t.Fatalf("expected EXECUTE -> DONE to be illegal")
	}

	var domErr *DomainError
	if !errors.As(err, &domErr) {
		t.Fatalf("expected DomainError, got %T", err)
	}
	if domErr.Code != CodeIllegalTransition {
		t.Fatalf("expected code %s, got %s", CodeIllegalTransition, domErr.Code)
	}

	// The diagnostic names current status, attempted target, and the full
	// allowed-target set in sorted order.
	msg := err.Error()
	for _, want := range []string{"EXECUTE", "DONE", "ACCEPT, BLOCKED, DRAINING, FAILED"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("diagnostic %q missing %q", msg, want)
		}
	}
	if domErr.Details["current_status"] != "EXECUTE" {
		t.Fatalf("expected current_status detail, got %v", domErr.Details)
	}
	if domErr.Details["attempted_target"] != "DONE" {
		t.Fatalf("expected attempted_target detail, got %v", domErr.Details)
	}
}

func TestStatus_AllowedTargetsSorted(t *testing.T) {
	got := AllowedTargets(StatusExecute)
	want := []PipelineStatus{StatusAccept, StatusBlocked, StatusDraining, StatusFailed}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestStatus_ReworkEdge(t *testing.T) {
	// ACCEPT may loop back to EXECUTE for rework.
	if err := CheckTransition(StatusAccept, StatusExecute); err != nil {
		t.Fatalf("expected ACCEPT -> EXECUTE rework edge, got %v", err)
	}
	if err := CheckTransition(StatusAccept, StatusDone); err != nil {
		t.Fatalf("expected ACCEPT -> DONE edge, got %v", err)
	}
}

func TestStatus_Parse(t *testing.T) {
	s, err := ParseStatus("DRAINING")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != StatusDraining {
		t.Fatalf("expected DRAINING, got %s", s)
	}
	if _, err := ParseStatus("draining"); err == nil {
		t.Fatalf("expected lowercase status to be rejected")
	}
}

func TestStatus_UnknownStatuses(t *testing.T) {
	if err := CheckTransition("BOGUS", StatusDone); err == nil {
		t.Fatalf("expected unknown current status to be rejected")
	}
	if err := CheckTransition(StatusPlanning, "BOGUS"); err == nil {
		t.Fatalf("expected unknown target status to be rejected")
	}
}
