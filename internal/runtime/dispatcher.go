package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/stewardlabs/steward/internal/core"
)

// SimulatedDispatcher completes every step locally. It is the default
// collaborator when no external executor is configured and the
// deterministic workhorse of the test suite.
type SimulatedDispatcher struct {
	// FailStepIDs lists steps that report an error outcome.
	FailStepIDs map[string]bool
	// TimeoutStepIDs lists steps that report a timeout outcome.
	TimeoutStepIDs map[string]bool
	// FailuresBeforeSuccess makes a step fail this many times first,
	// exercising the rework loop.
	FailuresBeforeSuccess map[string]int

	attempts map[string]int
}

func (d *SimulatedDispatcher) Execute(_ context.Context, req core.DispatchRequest) (*core.DispatchResult, error) {
	if d.attempts == nil {
		d.attempts = make(map[string]int)
	}
	d.attempts[req.Step.ID]++

	if d.TimeoutStepIDs[req.Step.ID] {
		return &core.DispatchResult{
			Status: core.DispatchTimeout,
			Error:  fmt.Sprintf("step %s exceeded %s", req.Step.ID, req.Timeout),
		}, nil
	}
	if d.FailStepIDs[req.Step.ID] {
		return &core.DispatchResult{
			Status: core.DispatchError,
			Error:  fmt.Sprintf("step %s failed", req.Step.ID),
		}, nil
	}
	if remaining := d.FailuresBeforeSuccess[req.Step.ID]; remaining > 0 && d.attempts[req.Step.ID] <= remaining {
		return &core.DispatchResult{
			Status: core.DispatchError,
			Error:  fmt.Sprintf("step %s transient failure %d", req.Step.ID, d.attempts[req.Step.ID]),
		}, nil
	}

	return &core.DispatchResult{
		Status: core.DispatchCompleted,
		Output: fmt.Sprintf("dispatch evidence addresses: %s", req.Step.Goal),
	}, nil
}

// CommandDispatcher shells out to a configured executable per step. The
// step's goal arrives on stdin; stdout is the evidence the verify node
// evaluates. Timeouts surface as a structured timeout status, never as a
// raised fault.
type CommandDispatcher struct {
	Command string
	Args    []string
}

func (d *CommandDispatcher) Execute(ctx context.Context, req core.DispatchRequest) (*core.DispatchResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, d.Args...), req.Step.ID)
	cmd := exec.CommandContext(ctx, d.Command, args...)
	cmd.Stdin = bytes.NewBufferString(req.Step.Goal + "\n")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return &core.DispatchResult{
			Status: core.DispatchTimeout,
			Error:  fmt.Sprintf("command %s exceeded %s for step %s", d.Command, req.Timeout, req.Step.ID),
		}, nil
	}
	if err != nil {
		return &core.DispatchResult{
			Status: core.DispatchError,
			Output: stdout.String(),
			Error:  fmt.Sprintf("command %s failed after %s: %v: %s", d.Command, time.Since(start).Round(time.Millisecond), err, stderr.String()),
		}, nil
	}
	return &core.DispatchResult{
		Status: core.DispatchCompleted,
		Output: stdout.String(),
	}, nil
}

var _ core.Dispatcher = (*SimulatedDispatcher)(nil)
var _ core.Dispatcher = (*CommandDispatcher)(nil)
