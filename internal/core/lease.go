package core

import (
	"fmt"
	"time"
)

// LeaseStatus is the lifecycle state of an execution lease.
type LeaseStatus string

const (
	LeaseActive    LeaseStatus = "ACTIVE"
	LeaseReleased  LeaseStatus = "RELEASED"
	LeaseExpired   LeaseStatus = "EXPIRED"
	LeaseTakenOver LeaseStatus = "TAKEN_OVER"
)

// ValidLeaseStatus checks membership in the frozen enum.
func ValidLeaseStatus(s LeaseStatus) bool {
	switch s {
	case LeaseActive, LeaseReleased, LeaseExpired, LeaseTakenOver:
		return true
	}
	return false
}

// Lease is a time-bounded exclusive-execution claim on a run.
type Lease struct {
	HolderThreadID string      `json:"holder_thread_id"`
	HolderPID      int         `json:"holder_pid"`
	AcquiredAt     time.Time   `json:"acquired_at"`
	TTLSeconds     int         `json:"ttl_seconds"`
	Status         LeaseStatus `json:"status"`
	RefreshedAt    *time.Time  `json:"refreshed_at,omitempty"`
}

// Deadline returns the instant the lease lapses without a refresh.
func (l *Lease) Deadline() time.Time {
	base := l.AcquiredAt
	if l.RefreshedAt != nil && l.RefreshedAt.After(base) {
		base = *l.RefreshedAt
	}
	return base.Add(time.Duration(l.TTLSeconds) * time.Second)
}

// ExpiredAt reports whether the lease has lapsed at the given instant.
func (l *Lease) ExpiredAt(now time.Time) bool {
	return now.After(l.Deadline())
}

// ProcessLeases is the persisted lease aggregate: full lease history per
// run, newest last. At most one lease per run may be ACTIVE.
type ProcessLeases struct {
	SchemaVersion string              `json:"schema_version"`
	Leases        map[string][]*Lease `json:"leases"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// NewProcessLeases creates an empty lease aggregate.
func NewProcessLeases(now time.Time) *ProcessLeases {
	return &ProcessLeases{
		SchemaVersion: SchemaVersion,
		Leases:        make(map[string][]*Lease),
		UpdatedAt:     now,
	}
}

// ActiveLease returns the ACTIVE lease for a run, if any.
func (pl *ProcessLeases) ActiveLease(runID string) *Lease {
	for _, l := range pl.Leases[runID] {
		if l.Status == LeaseActive {
			return l
		}
	}
	return nil
}

// LatestLease returns the most recently appended lease for a run.
func (pl *ProcessLeases) LatestLease(runID string) *Lease {
	history := pl.Leases[runID]
	if len(history) == 0 {
		return nil
	}
	return history[len(history)-1]
}

// Append adds a lease to a run's history.
func (pl *ProcessLeases) Append(runID string, l *Lease) {
	if pl.Leases == nil {
		pl.Leases = make(map[string][]*Lease)
	}
	pl.Leases[runID] = append(pl.Leases[runID], l)
}

// Validate checks the aggregate's contract shape, including the
// single-ACTIVE-lease-per-run invariant.
func (pl *ProcessLeases) Validate() error {
	if pl.SchemaVersion != SchemaVersion {
		return ErrValidation(CodeContractViolation,
			fmt.Sprintf("process_leases schema_version %q, want %q", pl.SchemaVersion, SchemaVersion))
	}
	for runID, history := range pl.Leases {
		active := 0
		for _, l := range history {
			if !ValidLeaseStatus(l.Status) {
				return ErrValidation(CodeContractViolation,
					fmt.Sprintf("lease status %q for run %s is not in the frozen enum", l.Status, runID))
			}
			if l.Status == LeaseActive {
				active++
			}
		}
		if active > 1 {
			return ErrValidation(CodeContractViolation,
				fmt.Sprintf("run %s has %d ACTIVE leases, at most one allowed", runID, active))
		}
	}
	return nil
}
