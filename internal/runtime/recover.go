package runtime

import (
	"context"
	"errors"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/logging"
)

// RecoverState reconstructs a runtime positioned at the next pending node
// of an existing run, without re-executing completed nodes. When the
// primary state document is corrupt, it degrades to the latest valid
// checkpoint instead of failing; Run invoked afterward reaches the same
// terminal state a non-interrupted run would.
func RecoverState(ctx context.Context, store core.StateStore, dispatcher core.Dispatcher, logger *logging.Logger, runID string, opts ...Option) (*Runtime, error) {
	state, err := store.LoadState(ctx, runID)
	if err != nil {
		var derr *core.DomainError
		if !errors.As(err, &derr) || derr.Code != core.CodeStateCorrupted {
			return nil, err
		}
		logger.WithRun(runID).Warn("primary state document corrupt, falling back to checkpoint")
		checkpoint, cpErr := store.LoadLatestValidCheckpoint(ctx, runID)
		if cpErr != nil {
			return nil, cpErr
		}
		state = checkpoint.StateCopy

		// Re-persist the recovered document so later loads stop hitting
		// the corrupt bytes. Same-status write, no edge to validate.
		if saveErr := store.SaveState(ctx, state, "recover", state.Status, state.Status); saveErr != nil {
			return nil, saveErr
		}
		if evErr := store.AppendEvent(ctx, state.TaskID, runID, "",
			core.EventSystem, core.SeverityWarn,
			map[string]any{
				"message":         "state recovered from checkpoint",
				"checkpoint_node": checkpoint.Node,
				"status":          string(state.Status),
			}, ""); evErr != nil {
			return nil, evErr
		}
	}

	r := newRuntime(store, dispatcher, logger, opts...)
	r.state = state
	logger.WithRun(runID).Info("state recovered",
		"status", string(state.Status),
		"steps", len(state.Steps),
		"next_node", r.nextNode())
	return r, nil
}
