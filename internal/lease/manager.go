// Package lease implements the single-run mutual-exclusion lease and the
// succession protocol that lets a new process adopt an abandoned run.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/logging"
)

// Identity names a lease holder.
type Identity struct {
	ThreadID string
	PID      int
}

// TakeoverResult reports the outcome of a succession.
type TakeoverResult struct {
	AdoptedStepIDs []string
	PriorHolder    string
	TakenOverAt    time.Time
}

// Manager mediates lease acquisition, refresh, release, and takeover.
// Lease checks are advisory: holders check then act, serialized through
// whole-document writes of the process_leases aggregate.
type Manager struct {
	store  core.StateStore
	clock  core.Clock
	logger *logging.Logger

	// pidAlive is swappable for tests.
	pidAlive func(pid int) bool
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithClock sets the clock (frozen in tests).
func WithClock(c core.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithPIDProbe replaces the process-liveness probe.
func WithPIDProbe(probe func(pid int) bool) ManagerOption {
	return func(m *Manager) { m.pidAlive = probe }
}

// NewManager creates a lease manager writing through the given store.
func NewManager(store core.StateStore, logger *logging.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		clock:    core.SystemClock{},
		logger:   logger,
		pidAlive: pidExists,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func pidExists(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		// Probe failure must not grant a takeover by accident
		return true
	}
	return alive
}

// Acquire installs an ACTIVE lease for the holder. A live, unexpired
// lease held by someone else rejects the acquisition; an expired one is
// marked EXPIRED and replaced.
func (m *Manager) Acquire(ctx context.Context, runID string, holder Identity, ttl time.Duration) (*core.Lease, error) {
	now := m.clock.Now()
	leases, err := m.store.LoadLeases(ctx)
	if err != nil {
		return nil, err
	}

	if active := leases.ActiveLease(runID); active != nil {
		if active.HolderThreadID == holder.ThreadID && active.HolderPID == holder.PID {
			return active, nil // already ours
		}
		if !active.ExpiredAt(now) && m.pidAlive(active.HolderPID) {
			return nil, core.ErrLease(core.CodeLeaseHeld,
				fmt.Sprintf("run %s is leased to %s (pid %d) until %s",
					runID, active.HolderThreadID, active.HolderPID,
					active.Deadline().UTC().Format(time.RFC3339)))
		}
		active.Status = core.LeaseExpired
	}

	lease := &core.Lease{
		HolderThreadID: holder.ThreadID,
		HolderPID:      holder.PID,
		AcquiredAt:     now,
		TTLSeconds:     int(ttl.Seconds()),
		Status:         core.LeaseActive,
	}
	leases.Append(runID, lease)
	if err := m.store.SaveLeases(ctx, leases); err != nil {
		return nil, err
	}
	m.logger.WithRun(runID).Debug("lease acquired",
		"holder", holder.ThreadID, "pid", holder.PID, "ttl_seconds", lease.TTLSeconds)
	return lease, nil
}

// Refresh extends the holder's ACTIVE lease. Refreshing a lease the
// caller no longer holds is an error, not a re-acquisition.
func (m *Manager) Refresh(ctx context.Context, runID string, holder Identity) error {
	now := m.clock.Now()
	leases, err := m.store.LoadLeases(ctx)
	if err != nil {
		return err
	}
	active := leases.ActiveLease(runID)
	if active == nil || active.HolderThreadID != holder.ThreadID {
		return core.ErrLease(core.CodeLeaseNotFound,
			fmt.Sprintf("no active lease held by %s for run %s", holder.ThreadID, runID))
	}
	if active.ExpiredAt(now) {
		active.Status = core.LeaseExpired
		if saveErr := m.store.SaveLeases(ctx, leases); saveErr != nil {
			return saveErr
		}
		return core.ErrLease(core.CodeLeaseNotFound,
			fmt.Sprintf("lease held by %s for run %s lapsed at %s",
				holder.ThreadID, runID, active.Deadline().UTC().Format(time.RFC3339)))
	}
	active.RefreshedAt = &now
	return m.store.SaveLeases(ctx, leases)
}

// Release marks the holder's lease RELEASED on graceful completion.
func (m *Manager) Release(ctx context.Context, runID string, holder Identity) error {
	leases, err := m.store.LoadLeases(ctx)
	if err != nil {
		return err
	}
	active := leases.ActiveLease(runID)
	if active == nil || active.HolderThreadID != holder.ThreadID {
		return core.ErrLease(core.CodeLeaseNotFound,
			fmt.Sprintf("no active lease held by %s for run %s", holder.ThreadID, runID))
	}
	active.Status = core.LeaseReleased
	return m.store.SaveLeases(ctx, leases)
}

// Takeover replaces an abandoned holder. Preconditions: the prior lease
// is EXPIRED (or its holder process is gone) or the run's heartbeat is
// STALE. Effects: prior lease marked TAKEN_OVER, a fresh ACTIVE lease for
// the successor, succession.last_takeover_at recorded on the pipeline
// state, and the incomplete steps owned by the prior holder's lane
// returned for adoption. Re-invoking takeover when the latest lease is
// already TAKEN_OVER is rejected explicitly.
func (m *Manager) Takeover(ctx context.Context, taskID, runID string, successor Identity, ttl time.Duration) (*TakeoverResult, error) {
	now := m.clock.Now()
	leases, err := m.store.LoadLeases(ctx)
	if err != nil {
		return nil, err
	}

	prior := leases.ActiveLease(runID)
	if prior == nil {
		// A lease already marked EXPIRED (a lapsed Refresh records
		// this without installing a successor) is still the prior
		// holder for takeover purposes.
		latest := leases.LatestLease(runID)
		switch {
		case latest != nil && latest.Status == core.LeaseTakenOver:
			return nil, core.ErrLease(core.CodeLeaseTakenOver,
				fmt.Sprintf("run %s was already taken over from %s; acquire a new lease instead",
					runID, latest.HolderThreadID))
		case latest != nil && latest.Status == core.LeaseExpired:
			prior = latest
		default:
			return nil, core.ErrLease(core.CodeLeaseNotFound,
				fmt.Sprintf("run %s has no active lease to take over", runID))
		}
	}

	if err := m.checkTakeoverEligibility(ctx, runID, prior, now); err != nil {
		return nil, err
	}

	state, err := m.store.LoadState(ctx, runID)
	if err != nil {
		return nil, err
	}

	adopted := incompleteStepsOwnedBy(state, prior.HolderThreadID)

	prior.Status = core.LeaseTakenOver
	leases.Append(runID, &core.Lease{
		HolderThreadID: successor.ThreadID,
		HolderPID:      successor.PID,
		AcquiredAt:     now,
		TTLSeconds:     int(ttl.Seconds()),
		Status:         core.LeaseActive,
	})
	if err := m.store.SaveLeases(ctx, leases); err != nil {
		return nil, err
	}

	state.Succession.LastTakeoverAt = &now
	if err := m.store.SaveState(ctx, state, "takeover", state.Status, state.Status); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"prior_holder":     prior.HolderThreadID,
		"successor":        successor.ThreadID,
		"adopted_step_ids": adopted,
	}
	if err := m.store.AppendEvent(ctx, taskID, runID, "",
		core.EventLeaseTakeover, core.SeverityWarn, payload, ""); err != nil {
		return nil, err
	}

	m.logger.WithRun(runID).Warn("lease taken over",
		"prior_holder", prior.HolderThreadID,
		"successor", successor.ThreadID,
		"adopted_steps", len(adopted))

	return &TakeoverResult{
		AdoptedStepIDs: adopted,
		PriorHolder:    prior.HolderThreadID,
		TakenOverAt:    now,
	}, nil
}

// checkTakeoverEligibility rejects takeover of a healthy holder.
func (m *Manager) checkTakeoverEligibility(ctx context.Context, runID string, prior *core.Lease, now time.Time) error {
	if prior.ExpiredAt(now) {
		return nil
	}
	if !m.pidAlive(prior.HolderPID) {
		return nil
	}
	hb, err := m.store.LoadHeartbeat(ctx, runID)
	if err != nil {
		return err
	}
	if hb != nil && hb.Status == core.HeartbeatStale {
		return nil
	}
	return core.ErrLease(core.CodeLeaseHeld,
		fmt.Sprintf("takeover rejected: lease held by %s (pid %d) is fresh until %s and heartbeat is not STALE",
			prior.HolderThreadID, prior.HolderPID, prior.Deadline().UTC().Format(time.RFC3339)))
}

// incompleteStepsOwnedBy lists the prior lane's claimed steps that never
// passed verification, in plan order.
func incompleteStepsOwnedBy(state *core.PipelineState, lane string) []string {
	var out []string
	for _, stepID := range state.StepsOwnedByLane(lane) {
		if step, ok := state.StepByID(stepID); ok && step.Status != core.StepStatusCompleted {
			out = append(out, stepID)
		}
	}
	return out
}
