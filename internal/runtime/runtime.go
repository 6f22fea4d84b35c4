// Package runtime drives the pipeline node sequence over the durable
// store: extract, plan, dispatch, verify, transition. Every accepted
// transition is persisted before the next node begins, so a crash at any
// point leaves on-disk state describing exactly the last completed node.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/logging"
)

// HeartbeatRecorder receives explicit liveness signals from the runtime.
type HeartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, taskID, runID string) error
}

// InterruptCheck is polled at node boundaries. Returning true stops the
// run with core.ErrInterrupted; mid-node state is never abandoned.
type InterruptCheck func() bool

// InterruptAfterNodes returns a check that fires once n nodes completed.
func InterruptAfterNodes(n int) InterruptCheck {
	count := 0
	return func() bool {
		count++
		return count > n
	}
}

const (
	defaultReworkLimit     = 3
	defaultDispatchTimeout = 10 * time.Minute
	defaultLane            = "main"
)

// Runtime executes one run of one task. Single-threaded by design: no
// internal goroutine pool drives nodes, concurrency exists only across
// processes contending for the lease.
type Runtime struct {
	store      core.StateStore
	dispatcher core.Dispatcher
	analyzer   Analyzer
	planner    Planner
	clock      core.Clock
	logger     *logging.Logger
	heartbeat  HeartbeatRecorder
	interrupt  InterruptCheck

	lane            string
	reworkLimit     int
	dispatchTimeout time.Duration

	state *core.PipelineState
}

// Option configures a Runtime.
type Option func(*Runtime)

func WithClock(c core.Clock) Option          { return func(r *Runtime) { r.clock = c } }
func WithAnalyzer(a Analyzer) Option         { return func(r *Runtime) { r.analyzer = a } }
func WithPlanner(p Planner) Option           { return func(r *Runtime) { r.planner = p } }
func WithLane(lane string) Option            { return func(r *Runtime) { r.lane = lane } }
func WithReworkLimit(n int) Option           { return func(r *Runtime) { r.reworkLimit = n } }
func WithDispatchTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.dispatchTimeout = d }
}
func WithHeartbeat(h HeartbeatRecorder) Option { return func(r *Runtime) { r.heartbeat = h } }
func WithInterruptCheck(c InterruptCheck) Option {
	return func(r *Runtime) { r.interrupt = c }
}

func newRuntime(store core.StateStore, dispatcher core.Dispatcher, logger *logging.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		store:           store,
		dispatcher:      dispatcher,
		analyzer:        HeuristicAnalyzer{},
		planner:         HeuristicPlanner{},
		clock:           core.SystemClock{},
		logger:          logger,
		lane:            defaultLane,
		reworkLimit:     defaultReworkLimit,
		dispatchTimeout: defaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRun creates and persists a fresh run positioned at PLANNING.
func NewRun(ctx context.Context, store core.StateStore, dispatcher core.Dispatcher, logger *logging.Logger, taskID, runID, goal string, opts ...Option) (*Runtime, error) {
	r := newRuntime(store, dispatcher, logger, opts...)
	r.state = core.NewPipelineState(taskID, runID, goal, r.clock.Now())
	if err := store.SaveState(ctx, r.state, "init", core.InitialStatus, core.InitialStatus); err != nil {
		return nil, err
	}
	if err := store.AppendEvent(ctx, taskID, runID, "", core.EventSystem, core.SeverityInfo,
		map[string]any{"message": "run created", "goal": goal}, ""); err != nil {
		return nil, err
	}
	return r, nil
}

// State returns the runtime's current in-memory state.
func (r *Runtime) State() *core.PipelineState { return r.state }

// Run drives nodes until the run reaches a terminal or holding status.
// Interruption is honored only between nodes; on interruption the
// returned error wraps core.ErrInterrupted.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		node := r.nextNode()
		if node == "" {
			return r.finish(ctx)
		}
		if err := r.checkInterrupt(ctx, node); err != nil {
			return err
		}
		if err := r.runNode(ctx, node); err != nil {
			return err
		}
		r.recordHeartbeat(ctx)
	}
}

// nextNode derives the pending node from the persisted status, so a
// recovered runtime resumes exactly where the interrupted one stopped.
func (r *Runtime) nextNode() string {
	switch r.state.Status {
	case core.StatusPlanning:
		return "extract"
	case core.StatusAnalysis:
		return "plan"
	case core.StatusFreeze, core.StatusExecute:
		if r.firstIncompleteStep() != nil {
			return "dispatch"
		}
		return "transition"
	case core.StatusAccept:
		return "transition"
	default:
		// DONE, FAILED terminal; DRAINING, BLOCKED hold for an operator
		return ""
	}
}

func (r *Runtime) runNode(ctx context.Context, node string) error {
	log := r.logger.WithRun(r.state.RunID).WithNode(node)
	log.Debug("node starting", "status", string(r.state.Status))

	var err error
	switch node {
	case "extract":
		err = r.extract(ctx)
	case "plan":
		err = r.plan(ctx)
	case "dispatch":
		err = r.dispatchAndVerify(ctx)
	case "transition":
		err = r.transition(ctx)
	default:
		err = fmt.Errorf("unknown node %q", node)
	}
	if err != nil {
		log.Error("node failed", "error", err)
		return err
	}
	log.Debug("node finished", "status", string(r.state.Status))
	return nil
}

// extract produces the task analysis and advances PLANNING to ANALYSIS.
func (r *Runtime) extract(ctx context.Context) error {
	analysis, err := r.analyzer.Analyze(r.state.Goal)
	if err != nil {
		return err
	}
	r.state.Analysis = analysis
	return r.saveTransition(ctx, "extract", core.StatusAnalysis)
}

// plan produces the ordered step list and advances ANALYSIS to FREEZE.
func (r *Runtime) plan(ctx context.Context) error {
	steps, err := r.planner.Plan(r.state.Goal, r.state.Analysis)
	if err != nil {
		return err
	}
	r.state.Steps = steps
	return r.saveTransition(ctx, "plan", core.StatusFreeze)
}

// dispatchAndVerify runs the bounded dispatch/verify loop for the current
// step. The executing lane claims the step before handing it to the
// Dispatcher; verification failure reworks the same step rather than
// advancing.
func (r *Runtime) dispatchAndVerify(ctx context.Context) error {
	step := r.firstIncompleteStep()
	if step == nil {
		return fmt.Errorf("dispatch invoked with no incomplete step")
	}
	if err := r.state.ClaimStep(r.lane, step.ID); err != nil {
		return err
	}
	r.state.CurrentStep = step.ID
	step.Status = core.StepStatusDispatched
	step.Attempts++

	if err := r.appendStepEvent(ctx, step.ID, core.EventStepStarted, core.SeverityInfo,
		map[string]any{"attempt": step.Attempts, "lane": r.lane}); err != nil {
		return err
	}

	result, err := r.dispatcher.Execute(ctx, core.DispatchRequest{
		TaskID:  r.state.TaskID,
		RunID:   r.state.RunID,
		Step:    step,
		Lane:    r.lane,
		Timeout: r.dispatchTimeout,
	})
	if err != nil {
		return core.ErrDispatch(core.CodeDispatchFailed,
			fmt.Sprintf("dispatcher fault for step %s", step.ID)).WithCause(err)
	}

	// First dispatch advances FREEZE to EXECUTE; later ones stay put
	target := core.StatusExecute
	if err := r.saveTransition(ctx, "dispatch", target); err != nil {
		return err
	}

	return r.verify(ctx, step, result)
}

// verify evaluates dispatch evidence against the step's acceptance
// criteria: passed, rework, or blocked once the rework budget is spent.
func (r *Runtime) verify(ctx context.Context, step *core.Step, result *core.DispatchResult) error {
	passed := result.Status == core.DispatchCompleted && result.Output != ""

	if passed {
		now := r.clock.Now()
		step.Status = core.StepStatusCompleted
		step.Output = result.Output
		step.Error = ""
		step.CompletedAt = &now
		if err := r.appendStepEvent(ctx, step.ID, core.EventStepCompleted, core.SeverityInfo,
			map[string]any{"attempt": step.Attempts}); err != nil {
			return err
		}
		return r.saveTransition(ctx, "verify", core.StatusExecute)
	}

	step.Error = result.Error
	if err := r.appendStepEvent(ctx, step.ID, core.EventStepFailed, core.SeverityWarn,
		map[string]any{
			"attempt":         step.Attempts,
			"dispatch_status": string(result.Status),
			"error":           result.Error,
		}); err != nil {
		return err
	}

	if step.Attempts >= r.reworkLimit {
		step.Status = core.StepStatusFailed
		if err := r.saveTransition(ctx, "verify", core.StatusBlocked); err != nil {
			return err
		}
		return core.ErrDispatch(core.CodeReworkLimitReached,
			fmt.Sprintf("step %s failed %d times (limit %d)", step.ID, step.Attempts, r.reworkLimit))
	}

	// Rework: the same step goes back to pending for redispatch
	step.Status = core.StepStatusPending
	return r.saveTransition(ctx, "verify", core.StatusExecute)
}

// transition applies the edge implied by overall progress: all steps
// verified moves EXECUTE to ACCEPT; acceptance moves ACCEPT to DONE, or
// back to EXECUTE when a step regressed.
func (r *Runtime) transition(ctx context.Context) error {
	switch r.state.Status {
	case core.StatusFreeze:
		// Plan produced no steps to dispatch; nothing to execute
		return r.saveTransition(ctx, "transition", core.StatusFailed)
	case core.StatusExecute:
		return r.saveTransition(ctx, "transition", core.StatusAccept)
	case core.StatusAccept:
		if r.firstIncompleteStep() != nil {
			if err := r.appendStepEvent(ctx, "", core.EventAcceptanceFailed, core.SeverityWarn,
				map[string]any{"reason": "incomplete steps remain"}); err != nil {
				return err
			}
			return r.saveTransition(ctx, "transition", core.StatusExecute)
		}
		if err := r.appendStepEvent(ctx, "", core.EventAcceptancePassed, core.SeverityInfo,
			map[string]any{"steps": len(r.state.Steps)}); err != nil {
			return err
		}
		return r.saveTransition(ctx, "transition", core.StatusDone)
	default:
		return fmt.Errorf("transition invoked from %s", r.state.Status)
	}
}

// Resume moves a holding run (BLOCKED or DRAINING) back to EXECUTE and
// resets failed steps for another rework budget. Explicit operator
// action, never automatic.
func (r *Runtime) Resume(ctx context.Context) error {
	if r.state.Status != core.StatusBlocked && r.state.Status != core.StatusDraining {
		return core.ErrTransition(core.CodeIllegalTransition,
			fmt.Sprintf("resume requires BLOCKED or DRAINING, run is %s", r.state.Status))
	}
	for _, step := range r.state.Steps {
		if step.Status == core.StepStatusFailed {
			step.Status = core.StepStatusPending
			step.Attempts = 0
		}
	}
	return r.saveTransition(ctx, "resume", core.StatusExecute)
}

// Drain requests a graceful wind-down of an executing run.
func (r *Runtime) Drain(ctx context.Context) error {
	return r.saveTransition(ctx, "drain", core.StatusDraining)
}

func (r *Runtime) finish(ctx context.Context) error {
	if r.state.Status == core.StatusDone {
		return r.store.AppendEvent(ctx, r.state.TaskID, r.state.RunID, "",
			core.EventSystem, core.SeverityInfo,
			map[string]any{"message": "run finished", "status": string(r.state.Status)}, "")
	}
	return nil
}

// saveTransition validates the edge, applies it, and persists one
// snapshot. Writes with an unchanged status carry from == to and skip the
// legality check.
func (r *Runtime) saveTransition(ctx context.Context, node string, to core.PipelineStatus) error {
	from := r.state.Status
	if from != to {
		if err := core.CheckTransition(from, to); err != nil {
			return err
		}
	}
	r.state.Status = to
	if err := r.store.SaveState(ctx, r.state, node, from, to); err != nil {
		r.state.Status = from
		return err
	}
	return nil
}

func (r *Runtime) firstIncompleteStep() *core.Step {
	for _, step := range r.state.Steps {
		if step.Status != core.StepStatusCompleted {
			return step
		}
	}
	return nil
}

func (r *Runtime) appendStepEvent(ctx context.Context, stepID string, t core.EventType, sev core.Severity, payload map[string]any) error {
	return r.store.AppendEvent(ctx, r.state.TaskID, r.state.RunID, stepID, t, sev, payload, "")
}

func (r *Runtime) checkInterrupt(ctx context.Context, node string) error {
	interrupted := ctx.Err() != nil
	if !interrupted && r.interrupt != nil {
		interrupted = r.interrupt()
	}
	if !interrupted {
		return nil
	}
	r.logger.WithRun(r.state.RunID).Warn("run interrupted at node boundary", "next_node", node)
	_ = r.store.AppendEvent(context.WithoutCancel(ctx), r.state.TaskID, r.state.RunID, "",
		core.EventSystem, core.SeverityWarn,
		map[string]any{"message": "interrupted", "next_node": node}, "")
	return fmt.Errorf("stopping before node %s: %w", node, core.ErrInterrupted)
}

func (r *Runtime) recordHeartbeat(ctx context.Context) {
	if r.heartbeat == nil {
		return
	}
	if err := r.heartbeat.RecordHeartbeat(ctx, r.state.TaskID, r.state.RunID); err != nil {
		r.logger.WithRun(r.state.RunID).Warn("heartbeat record failed", "error", err)
	}
}
