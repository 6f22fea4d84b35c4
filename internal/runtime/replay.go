package runtime

import (
	"context"
	"time"

	"github.com/stewardlabs/steward/internal/core"
)

// ReplayStep is one reconstructed transition.
type ReplayStep struct {
	Node       string              `json:"node"`
	FromStatus core.PipelineStatus `json:"from_status"`
	ToStatus   core.PipelineStatus `json:"to_status"`
	Timestamp  string              `json:"timestamp"`
}

// ReplayResult is the outcome of folding a run's persisted history.
type ReplayResult struct {
	RunID         string              `json:"run_id"`
	Transitions   []ReplayStep        `json:"transitions"`
	FinalStatus   core.PipelineStatus `json:"final_status"`
	EventCount    int                 `json:"event_count"`
	EdgesAllLegal bool                `json:"edges_all_legal"`
}

// Replay folds the snapshot history of a run back into its terminal
// status and checks every recorded edge against the transition graph.
// The replayed terminal status must match what LoadState reports; a
// mismatch means history and primary document have diverged.
func Replay(ctx context.Context, store core.StateStore, taskID, runID string) (*ReplayResult, error) {
	snapshots, err := store.ListSnapshots(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, err := store.ListEventsByTask(ctx, taskID, 0)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{
		RunID:         runID,
		FinalStatus:   core.InitialStatus,
		EdgesAllLegal: true,
	}
	for _, e := range events {
		if e.RunID == runID {
			result.EventCount++
		}
	}
	for _, sn := range snapshots {
		result.Transitions = append(result.Transitions, ReplayStep{
			Node:       sn.Node,
			FromStatus: sn.FromStatus,
			ToStatus:   sn.ToStatus,
			Timestamp:  sn.Timestamp.UTC().Format(time.RFC3339Nano),
		})
		if sn.FromStatus != sn.ToStatus && !core.CanTransition(sn.FromStatus, sn.ToStatus) {
			result.EdgesAllLegal = false
		}
		result.FinalStatus = sn.ToStatus
	}
	return result, nil
}
