package core

import (
	"fmt"
	"time"
)

// SchemaVersion is pinned for every persisted document. Bump only with a
// migration for each backend.
const SchemaVersion = "1.0.0"

// StepStatus represents the execution state of a single step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusDispatched StepStatus = "dispatched"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// Step is one planned unit of work inside a run.
type Step struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Goal               string     `json:"goal"`
	AcceptanceCriteria []string   `json:"acceptance_criteria"`
	ExpectedOutputs    []string   `json:"expected_outputs,omitempty"`
	DependsOn          []string   `json:"depends_on,omitempty"`
	Status             StepStatus `json:"status"`
	Attempts           int        `json:"attempts,omitempty"`
	Output             string     `json:"output,omitempty"`
	Error              string     `json:"error,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// TaskAnalysis is the structured output of the extract node.
type TaskAnalysis struct {
	Scope       string   `json:"scope"`
	Constraints []string `json:"constraints,omitempty"`
	Risks       []string `json:"risks,omitempty"`
	Complexity  string   `json:"complexity"`
}

// Succession records takeover history for a run.
type Succession struct {
	Enabled        bool       `json:"enabled"`
	LastTakeoverAt *time.Time `json:"last_takeover_at,omitempty"`
}

// PipelineState is the persisted state of one (task_id, run_id) pair.
// It is mutated only through StateStore writes attributed to a named
// transition node; deletion is never performed, new snapshots append over.
type PipelineState struct {
	SchemaVersion string            `json:"schema_version"`
	TaskID        string            `json:"task_id"`
	RunID         string            `json:"run_id"`
	Status        PipelineStatus    `json:"status"`
	CurrentStep   string            `json:"current_step,omitempty"`
	Goal          string            `json:"goal"`
	Analysis      *TaskAnalysis     `json:"analysis,omitempty"`
	Steps         []*Step           `json:"steps"`
	RoleLifecycle map[string]string `json:"role_lifecycle"`
	Succession    Succession        `json:"succession"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewPipelineState creates the state document for a fresh run.
func NewPipelineState(taskID, runID, goal string, now time.Time) *PipelineState {
	return &PipelineState{
		SchemaVersion: SchemaVersion,
		TaskID:        taskID,
		RunID:         runID,
		Status:        InitialStatus,
		Goal:          goal,
		Steps:         make([]*Step, 0),
		RoleLifecycle: make(map[string]string),
		Succession:    Succession{Enabled: true},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// StepByID retrieves a step by id.
func (s *PipelineState) StepByID(id string) (*Step, bool) {
	for _, st := range s.Steps {
		if st.ID == id {
			return st, true
		}
	}
	return nil, false
}

// PendingSteps returns steps not yet verified complete, in plan order.
func (s *PipelineState) PendingSteps() []*Step {
	var out []*Step
	for _, st := range s.Steps {
		if st.Status != StepStatusCompleted {
			out = append(out, st)
		}
	}
	return out
}

// ClaimStep records exclusive lane ownership of a step in role_lifecycle.
// The four keys together form the ownership claim other lanes check
// before dispatching. An existing claim by another lane is an error;
// entries are added monotonically, never silently overwritten.
func (s *PipelineState) ClaimStep(lane, stepID string) error {
	stepKey := "step:" + stepID
	if owner, ok := s.RoleLifecycle[stepKey]; ok {
		want := "owned_by_lane:" + lane
		if owner != want {
			return ErrState(CodeStepAlreadyOwned,
				fmt.Sprintf("step %s already claimed (%s)", stepID, owner))
		}
		return nil // idempotent re-claim by the same lane
	}
	s.RoleLifecycle[lane+"_lane"] = lane
	s.RoleLifecycle[lane+"_ownership"] = lane + ":" + stepID
	s.RoleLifecycle["lane:"+lane] = "active_step:" + stepID
	s.RoleLifecycle[stepKey] = "owned_by_lane:" + lane
	return nil
}

// StepsOwnedByLane returns the step ids claimed by a lane, in plan order.
func (s *PipelineState) StepsOwnedByLane(lane string) []string {
	var out []string
	for _, st := range s.Steps {
		if s.RoleLifecycle["step:"+st.ID] == "owned_by_lane:"+lane {
			out = append(out, st.ID)
		}
	}
	return out
}

// Validate checks the document's contract shape. It mirrors the checks
// every store backend applies before persisting.
func (s *PipelineState) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return ErrValidation(CodeContractViolation,
			fmt.Sprintf("pipeline_state schema_version %q, want %q", s.SchemaVersion, SchemaVersion))
	}
	if s.TaskID == "" {
		return ErrValidation(CodeContractViolation, "pipeline_state task_id is required")
	}
	if s.RunID == "" {
		return ErrValidation(CodeContractViolation, "pipeline_state run_id is required")
	}
	if !ValidStatus(s.Status) {
		return ErrValidation(CodeContractViolation,
			fmt.Sprintf("pipeline_state status %q is not in the transition graph", s.Status))
	}
	if s.CurrentStep != "" {
		if _, ok := s.StepByID(s.CurrentStep); !ok {
			return ErrValidation(CodeContractViolation,
				fmt.Sprintf("pipeline_state current_step %q does not reference a planned step", s.CurrentStep))
		}
	}
	return nil
}

// Clone returns a deep copy, used for snapshot state copies so later
// mutations never leak into persisted history.
func (s *PipelineState) Clone() *PipelineState {
	cp := *s
	cp.Steps = make([]*Step, len(s.Steps))
	for i, st := range s.Steps {
		stepCopy := *st
		stepCopy.AcceptanceCriteria = append([]string(nil), st.AcceptanceCriteria...)
		stepCopy.ExpectedOutputs = append([]string(nil), st.ExpectedOutputs...)
		stepCopy.DependsOn = append([]string(nil), st.DependsOn...)
		cp.Steps[i] = &stepCopy
	}
	cp.RoleLifecycle = make(map[string]string, len(s.RoleLifecycle))
	for k, v := range s.RoleLifecycle {
		cp.RoleLifecycle[k] = v
	}
	if s.Analysis != nil {
		a := *s.Analysis
		a.Constraints = append([]string(nil), s.Analysis.Constraints...)
		a.Risks = append([]string(nil), s.Analysis.Risks...)
		cp.Analysis = &a
	}
	return &cp
}

// Snapshot is an immutable record of one accepted transition. The same
// record stream serves audit/replay (ListSnapshots) and defensive
// recovery (LoadLatestValidCheckpoint).
type Snapshot struct {
	Node       string         `json:"node"`
	FromStatus PipelineStatus `json:"from_status"`
	ToStatus   PipelineStatus `json:"to_status"`
	StateCopy  *PipelineState `json:"state_copy"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Valid reports whether a snapshot is usable as a recovery checkpoint.
func (sn *Snapshot) Valid() bool {
	if sn.StateCopy == nil {
		return false
	}
	return sn.StateCopy.Validate() == nil
}

// RunSummary provides a lightweight view of a run for listing.
type RunSummary struct {
	TaskID    string         `json:"task_id"`
	RunID     string         `json:"run_id"`
	Status    PipelineStatus `json:"status"`
	Goal      string         `json:"goal"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
