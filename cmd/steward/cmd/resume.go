package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/heartbeat"
	"github.com/stewardlabs/steward/internal/lease"
	"github.com/stewardlabs/steward/internal/runtime"
	"github.com/stewardlabs/steward/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Recover a persisted run and continue it",
	Long: `Load the durable state of an interrupted or holding run and drive
it forward from the exact node boundary where it stopped. If the primary
state document is corrupt, the newest valid checkpoint is used instead.

A BLOCKED or DRAINING run is moved back to EXECUTE with a fresh rework
budget before continuing.`,
	RunE: runResume,
}

var (
	resumeRunID    string
	resumeEngine   string
	resumeNoLease  bool
	resumeLeaseTTL int
)

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringVar(&resumeRunID, "run", "", "Run identifier (default: most recent run)")
	resumeCmd.Flags().StringVar(&resumeEngine, "engine", "", "Execution engine (sequential, graph)")
	resumeCmd.Flags().BoolVar(&resumeNoLease, "no-lease", false, "Skip lease acquisition")
	resumeCmd.Flags().IntVar(&resumeLeaseTTL, "lease-ttl", 0, "Lease TTL in seconds (default from config)")
}

func runResume(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = core.CloseStore(st) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := requireRunID(ctx, resumeRunID, st)
	if err != nil {
		return err
	}

	holder := lease.Identity{
		ThreadID: fmt.Sprintf("cli-%d", os.Getpid()),
		PID:      os.Getpid(),
	}
	if !resumeNoLease && !cfg.Lease.Disabled {
		ttl := cfg.Lease.TTL()
		if resumeLeaseTTL > 0 {
			ttl = time.Duration(resumeLeaseTTL) * time.Second
		}
		mgr := lease.NewManager(st, logger)
		if _, err := mgr.Acquire(ctx, runID, holder, ttl); err != nil {
			return err
		}
		defer func() {
			if err := mgr.Release(context.Background(), runID, holder); err != nil {
				logger.Warn("lease release failed", "error", err)
			}
		}()
	}

	th, err := cfg.Heartbeat.Thresholds()
	if err != nil {
		return err
	}
	daemon := heartbeat.NewDaemon(st, th, logger)

	rt, err := runtime.RecoverState(ctx, st, newDispatcher(cfg), logger, runID,
		runtime.WithLane(cfg.Runtime.Lane),
		runtime.WithReworkLimit(cfg.Runtime.ReworkLimit),
		runtime.WithDispatchTimeout(cfg.Dispatch.Timeout()),
		runtime.WithHeartbeat(daemon),
	)
	if err != nil {
		return err
	}

	status := rt.State().Status
	if status == core.StatusBlocked || status == core.StatusDraining {
		if err := rt.Resume(ctx); err != nil {
			return err
		}
	}

	kind, err := runtime.ResolveEngineKind(resumeEngine, cfg.Runtime.Engine)
	if err != nil {
		return err
	}
	eng, _ := runtime.SelectEngine(kind, store.Probe(), logger)

	if err := eng.Execute(ctx, rt); err != nil {
		return err
	}

	fmt.Printf("run %s finished with status %s\n", runID, rt.State().Status)
	return nil
}
