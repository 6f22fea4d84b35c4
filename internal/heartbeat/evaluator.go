// Package heartbeat classifies run liveness from observed activity
// signals and drives the periodic evaluation that persists the result.
package heartbeat

import (
	"fmt"
	"time"

	"github.com/stewardlabs/steward/internal/core"
)

// Classification is the evaluator's verdict for one instant.
type Classification string

const (
	ClassActive  Classification = "ACTIVE"
	ClassWarning Classification = "WARNING"
	ClassStale   Classification = "STALE"
)

// Signals are the activity timestamps available for a run. Zero values
// mean the signal was never observed.
type Signals struct {
	// LastHeartbeatAt is the explicit heartbeat recorded by the runtime.
	LastHeartbeatAt time.Time
	// LastArtifactAt is the most recent artifact modification observed.
	LastArtifactAt time.Time
	// StartedAt anchors runs that have produced no signal yet.
	StartedAt time.Time
}

// Freshest returns the most recent non-zero signal. The freshest signal
// wins: a stale explicit heartbeat does not mark a run dead while its
// artifacts are still changing.
func (s Signals) Freshest() time.Time {
	freshest := s.StartedAt
	if s.LastHeartbeatAt.After(freshest) {
		freshest = s.LastHeartbeatAt
	}
	if s.LastArtifactAt.After(freshest) {
		freshest = s.LastArtifactAt
	}
	return freshest
}

// Evaluation is the full result of one classification.
type Evaluation struct {
	Class          Classification
	Silence        time.Duration
	FreshestSignal time.Time
	ReasonCode     string
}

// Evaluate is a pure function of the clock, the signals, and the
// thresholds. Silence is measured from the freshest signal; a run with no
// signal at all is STALE.
func Evaluate(now time.Time, sig Signals, th core.Thresholds) Evaluation {
	freshest := sig.Freshest()
	if freshest.IsZero() {
		return Evaluation{
			Class:      ClassStale,
			Silence:    time.Duration(-1),
			ReasonCode: "no_signal_recorded",
		}
	}

	silence := now.Sub(freshest)
	ev := Evaluation{Silence: silence, FreshestSignal: freshest}
	switch {
	case silence < th.WarningAfter:
		ev.Class = ClassActive
	case silence < th.StaleAfter:
		ev.Class = ClassWarning
		ev.ReasonCode = warningReasonCode(th)
	default:
		ev.Class = ClassStale
		ev.ReasonCode = th.StaleReasonCode()
	}
	return ev
}

// warningReasonCode mirrors the stale derivation against the warning
// threshold.
func warningReasonCode(th core.Thresholds) string {
	return fmt.Sprintf("approaching_stale_after_%dm", int(th.WarningAfter.Minutes()))
}
