package main

import (
	"errors"
	"os"

	"github.com/stewardlabs/steward/cmd/steward/cmd"
	"github.com/stewardlabs/steward/internal/core"
)

// Version information - set by goreleaser at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitInterrupted distinguishes a run stopped at a node boundary from an
// ordinary failure.
const exitInterrupted = 3

func main() {
	cmd.SetVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		if errors.Is(err, core.ErrInterrupted) {
			os.Exit(exitInterrupted)
		}
		os.Exit(1)
	}
}
