package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UUIDSource is the production IDSource. Run ids embed a UTC timestamp so
// directory listings and summaries sort naturally.
type UUIDSource struct{}

// NewEventID returns a random UUID for an event-log entry.
func (UUIDSource) NewEventID() string {
	return uuid.NewString()
}

// NewRunID returns an id like run-20260301-120000-a1b2c.
func (UUIDSource) NewRunID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
	return fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102-150405"), suffix)
}

// SequenceIDSource is a deterministic IDSource for tests and for
// cross-backend equivalence verification.
type SequenceIDSource struct {
	next int
}

// NewEventID returns ev-000001, ev-000002, ...
func (s *SequenceIDSource) NewEventID() string {
	s.next++
	return fmt.Sprintf("ev-%06d", s.next)
}

// NewRunID returns run-000001, run-000002, ...
func (s *SequenceIDSource) NewRunID() string {
	s.next++
	return fmt.Sprintf("run-%06d", s.next)
}

// FrozenClock is a Clock pinned to a settable instant.
type FrozenClock struct {
	Instant time.Time
}

func (c *FrozenClock) Now() time.Time { return c.Instant }

// Advance moves the frozen instant forward.
func (c *FrozenClock) Advance(d time.Duration) { c.Instant = c.Instant.Add(d) }
