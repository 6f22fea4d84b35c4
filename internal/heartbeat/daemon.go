package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/logging"
)

// Daemon drives periodic liveness evaluation for one run. Each tick is a
// bounded, synchronous pass: read signals, evaluate, persist, and emit at
// most one event. Ticks may also be driven externally (cron style)
// through Tick directly.
type Daemon struct {
	store      core.StateStore
	activity   ActivitySource
	thresholds core.Thresholds
	clock      core.Clock
	logger     *logging.Logger
}

// DaemonOption configures the daemon.
type DaemonOption func(*Daemon)

// WithClock sets the clock (frozen in tests).
func WithClock(c core.Clock) DaemonOption {
	return func(d *Daemon) { d.clock = c }
}

// WithActivitySource sets the artifact activity source.
func WithActivitySource(a ActivitySource) DaemonOption {
	return func(d *Daemon) { d.activity = a }
}

// NewDaemon creates a liveness daemon writing through the given store.
func NewDaemon(store core.StateStore, th core.Thresholds, logger *logging.Logger, opts ...DaemonOption) *Daemon {
	d := &Daemon{
		store:      store,
		activity:   NoActivity{},
		thresholds: th,
		clock:      core.SystemClock{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RecordHeartbeat registers explicit liveness from the runtime. It marks
// the run RUNNING and clears any escalation reason.
func (d *Daemon) RecordHeartbeat(ctx context.Context, taskID, runID string) error {
	now := d.clock.Now()
	hb, err := d.loadOrInit(ctx, taskID, runID)
	if err != nil {
		return err
	}
	hb.LastHeartbeatAt = &now
	hb.Status = core.HeartbeatRunning
	hb.ReasonCode = ""
	return d.store.SaveHeartbeat(ctx, hb)
}

// Tick evaluates liveness once and persists the outcome. An event is
// appended only on the transition into WARNING or STALE; staying in the
// same classification across ticks appends nothing. Returning to activity
// resets the streak so the next silence escalates afresh.
func (d *Daemon) Tick(ctx context.Context, taskID, runID string) (Evaluation, error) {
	now := d.clock.Now()
	hb, err := d.loadOrInit(ctx, taskID, runID)
	if err != nil {
		return Evaluation{}, err
	}

	sig := Signals{LastArtifactAt: d.activity.LastActivity()}
	if hb.LastHeartbeatAt != nil {
		sig.LastHeartbeatAt = *hb.LastHeartbeatAt
	}

	eval := Evaluate(now, sig, d.thresholds)
	next := persistedStatus(eval.Class, hb.Status)

	escalated := isEscalation(hb.Status, next)
	hb.Status = next
	hb.ReasonCode = eval.ReasonCode
	if escalated {
		hb.LastEscalationAt = &now
		if err := d.appendEscalation(ctx, taskID, runID, eval); err != nil {
			return Evaluation{}, err
		}
		d.logger.WithRun(runID).Warn("liveness escalation",
			"status", string(next), "reason", eval.ReasonCode,
			"silence_seconds", int(eval.Silence.Seconds()))
	}

	if err := d.store.SaveHeartbeat(ctx, hb); err != nil {
		return Evaluation{}, err
	}
	return eval, nil
}

// Run ticks at the given interval until the context is canceled.
func (d *Daemon) Run(ctx context.Context, taskID, runID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.Tick(ctx, taskID, runID); err != nil {
				d.logger.WithRun(runID).Error("heartbeat tick failed", "error", err)
			}
		}
	}
}

func (d *Daemon) loadOrInit(ctx context.Context, taskID, runID string) (*core.HeartbeatStatus, error) {
	hb, err := d.store.LoadHeartbeat(ctx, runID)
	if err != nil {
		return nil, err
	}
	if hb == nil {
		hb = core.NewHeartbeatStatus(taskID, runID, d.thresholds, d.clock.Now())
	}
	return hb, nil
}

// appendEscalation writes the streak's single event. The dedup key is
// derived from the freshest signal, which is constant for the whole
// silent streak, so a replayed or restarted daemon cannot double-append.
func (d *Daemon) appendEscalation(ctx context.Context, taskID, runID string, eval Evaluation) error {
	eventType := core.EventHeartbeatWarning
	severity := core.SeverityWarn
	if eval.Class == ClassStale {
		eventType = core.EventHeartbeatStale
		severity = core.SeverityError
	}
	dedupKey := fmt.Sprintf("hb:%s:%s", eval.Class, eval.FreshestSignal.UTC().Format(time.RFC3339Nano))
	payload := map[string]any{
		"reason_code":     eval.ReasonCode,
		"silence_seconds": int(eval.Silence.Seconds()),
	}
	return d.store.AppendEvent(ctx, taskID, runID, "", eventType, severity, payload, dedupKey)
}

// persistedStatus maps the evaluator's verdict onto the frozen document
// enum. BLOCKED is set by the runtime, not the evaluator, so an active
// blocked run stays BLOCKED.
func persistedStatus(class Classification, prev core.HeartbeatState) core.HeartbeatState {
	switch class {
	case ClassWarning:
		return core.HeartbeatWarning
	case ClassStale:
		return core.HeartbeatStale
	default:
		if prev == core.HeartbeatBlocked {
			return core.HeartbeatBlocked
		}
		return core.HeartbeatRunning
	}
}

// isEscalation reports whether the status change is a transition into
// WARNING or STALE. WARNING to STALE counts; STALE to STALE does not.
func isEscalation(prev, next core.HeartbeatState) bool {
	if next != core.HeartbeatWarning && next != core.HeartbeatStale {
		return false
	}
	return prev != next
}
