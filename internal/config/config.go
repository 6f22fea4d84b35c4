// Package config loads and validates steward's layered configuration:
// flags over environment over config file over defaults.
package config

import (
	"fmt"
	"time"

	"github.com/stewardlabs/steward/internal/core"
)

// Config is the full runtime configuration.
type Config struct {
	State     StateConfig     `mapstructure:"state"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Log       LogConfig       `mapstructure:"log"`
	Serve     ServeConfig     `mapstructure:"serve"`
}

// StateConfig selects and locates the durable store.
type StateConfig struct {
	Backend string `mapstructure:"backend"` // file, sqlite
	Dir     string `mapstructure:"dir"`
}

// HeartbeatConfig holds liveness thresholds and artifact sources.
type HeartbeatConfig struct {
	WarningAfterSeconds int      `mapstructure:"warning_after_seconds"`
	StaleAfterSeconds   int      `mapstructure:"stale_after_seconds"`
	IntervalSeconds     int      `mapstructure:"interval_seconds"`
	ArtifactDirs        []string `mapstructure:"artifact_dirs"`
}

// Thresholds builds the validated threshold pair.
func (h HeartbeatConfig) Thresholds() (core.Thresholds, error) {
	return core.NewThresholds(
		time.Duration(h.WarningAfterSeconds)*time.Second,
		time.Duration(h.StaleAfterSeconds)*time.Second)
}

// LeaseConfig controls the mutual-exclusion lease.
type LeaseConfig struct {
	TTLSeconds int  `mapstructure:"ttl_seconds"`
	Disabled   bool `mapstructure:"disabled"`
}

// TTL returns the lease duration.
func (l LeaseConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// RuntimeConfig tunes node execution.
type RuntimeConfig struct {
	Engine      string `mapstructure:"engine"` // sequential, graph
	Lane        string `mapstructure:"lane"`
	ReworkLimit int    `mapstructure:"rework_limit"`
}

// DispatchConfig selects the external execution collaborator. An empty
// command means the simulated dispatcher.
type DispatchConfig struct {
	Command        string   `mapstructure:"command"`
	Args           []string `mapstructure:"args"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-step dispatch timeout.
func (d DispatchConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // auto, text, json
}

// ServeConfig configures the read-only HTTP surface.
type ServeConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Validate rejects configurations the components would refuse later,
// with the reason attached up front.
func (c *Config) Validate() error {
	if _, err := c.Heartbeat.Thresholds(); err != nil {
		return err
	}
	if c.Lease.TTLSeconds <= 0 && !c.Lease.Disabled {
		return core.ErrValidation("INVALID_LEASE_TTL",
			fmt.Sprintf("lease ttl_seconds must be positive, got %d", c.Lease.TTLSeconds))
	}
	if c.Runtime.ReworkLimit <= 0 {
		return core.ErrValidation("INVALID_REWORK_LIMIT",
			fmt.Sprintf("runtime rework_limit must be positive, got %d", c.Runtime.ReworkLimit))
	}
	switch c.State.Backend {
	case "", "file", "sqlite":
	default:
		return core.ErrValidation("UNKNOWN_BACKEND",
			fmt.Sprintf("state backend %q is not supported (file, sqlite)", c.State.Backend))
	}
	return nil
}
