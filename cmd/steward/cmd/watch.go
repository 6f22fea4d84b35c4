package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/heartbeat"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the liveness evaluation daemon",
	Long: `Periodically evaluate run liveness from the freshest of the last
recorded heartbeat and observed artifact activity. A run that crosses a
silence threshold is escalated once per streak; recovery resets the
streak.

Without --run every known run is watched. Artifact directories from the
configuration are monitored for writes so a busy collaborator that
cannot call in still counts as alive.`,
	RunE: runWatch,
}

var (
	watchTaskID   string
	watchRunID    string
	watchInterval int
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchTaskID, "task", "task-main", "Task identifier")
	watchCmd.Flags().StringVar(&watchRunID, "run", "", "Run identifier (default: all runs)")
	watchCmd.Flags().IntVar(&watchInterval, "interval", 0, "Evaluation interval in seconds (default from config)")
}

func runWatch(_ *cobra.Command, _ []string) error {
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

	th, err := cfg.Heartbeat.Thresholds()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []heartbeat.DaemonOption{}
	if len(cfg.Heartbeat.ArtifactDirs) > 0 {
		watcher, err := heartbeat.NewArtifactWatcher(cfg.Heartbeat.ArtifactDirs, logger)
		if err != nil {
			return fmt.Errorf("watching artifact dirs: %w", err)
		}
		defer func() { _ = watcher.Close() }()
		watcher.Start(ctx)
		opts = append(opts, heartbeat.WithActivitySource(watcher))
	}
	daemon := heartbeat.NewDaemon(st, th, logger, opts...)

	interval := time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second
	if watchInterval > 0 {
		interval = time.Duration(watchInterval) * time.Second
	}

	var runIDs []string
	if watchRunID != "" {
		runIDs = []string{watchRunID}
	} else {
		summaries, err := st.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range summaries {
			if !s.Status.IsTerminal() {
				runIDs = append(runIDs, s.RunID)
			}
		}
	}
	if len(runIDs) == 0 {
		return fmt.Errorf("no active runs to watch")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, runID := range runIDs {
		g.Go(func() error {
			return daemon.Run(gctx, watchTaskID, runID, interval)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
