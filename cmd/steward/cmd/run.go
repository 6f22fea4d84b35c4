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

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Start a new pipeline run",
	Long: `Create a new run for the given goal and drive it through the
pipeline: extract, plan, dispatch, verify, transition. The goal can be
provided as an argument or via --file.

Every transition is persisted before execution continues, so the run
can be interrupted and recovered with 'steward resume'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPipeline,
}

var (
	runFile              string
	runTaskID            string
	runRunID             string
	runLane              string
	runEngine            string
	runThreadID          string
	runNoLease           bool
	runLeaseTTL          int
	runSimulateInterrupt int
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "Read goal from file")
	runCmd.Flags().StringVar(&runTaskID, "task", "task-main", "Task identifier")
	runCmd.Flags().StringVar(&runRunID, "run", "", "Run identifier (default: generated)")
	runCmd.Flags().StringVar(&runLane, "lane", "", "Ownership lane for claimed steps (default from config)")
	runCmd.Flags().StringVar(&runEngine, "engine", "", "Execution engine (sequential, graph)")
	runCmd.Flags().StringVar(&runThreadID, "thread-id", "", "Lease holder thread id (default: cli-<pid>)")
	runCmd.Flags().BoolVar(&runNoLease, "no-lease", false, "Skip lease acquisition")
	runCmd.Flags().IntVar(&runLeaseTTL, "lease-ttl", 0, "Lease TTL in seconds (default from config)")
	runCmd.Flags().IntVar(&runSimulateInterrupt, "simulate-interrupt", 0,
		"Stop at the next node boundary after N nodes (testing aid)")
}

func runPipeline(_ *cobra.Command, args []string) error {
	goal, err := getGoal(args, runFile)
	if err != nil {
		return err
	}

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

	runID := runRunID
	if runID == "" {
		runID = core.UUIDSource{}.NewRunID()
	}

	holder := holderIdentity()
	if !runNoLease && !cfg.Lease.Disabled {
		ttl := cfg.Lease.TTL()
		if runLeaseTTL > 0 {
			ttl = time.Duration(runLeaseTTL) * time.Second
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

	kind, err := runtime.ResolveEngineKind(runEngine, cfg.Runtime.Engine)
	if err != nil {
		return err
	}
	eng, fellBack := runtime.SelectEngine(kind, store.Probe(), logger)

	lane := cfg.Runtime.Lane
	if runLane != "" {
		lane = runLane
	}

	opts := []runtime.Option{
		runtime.WithLane(lane),
		runtime.WithReworkLimit(cfg.Runtime.ReworkLimit),
		runtime.WithDispatchTimeout(cfg.Dispatch.Timeout()),
		runtime.WithHeartbeat(daemon),
	}
	if runSimulateInterrupt > 0 {
		opts = append(opts, runtime.WithInterruptCheck(
			runtime.InterruptAfterNodes(runSimulateInterrupt)))
	}

	rt, err := runtime.NewRun(ctx, st, newDispatcher(cfg), logger, runTaskID, runID, goal, opts...)
	if err != nil {
		return err
	}

	if fellBack {
		err := st.AppendEvent(ctx, runTaskID, runID, "", core.EventSystem, core.SeverityWarn,
			map[string]any{
				"message":   "engine fallback",
				"requested": string(kind),
				"selected":  eng.Name(),
			}, "")
		if err != nil {
			return err
		}
	}

	if err := eng.Execute(ctx, rt); err != nil {
		return err
	}

	fmt.Printf("run %s finished with status %s\n", runID, rt.State().Status)
	return nil
}

func holderIdentity() lease.Identity {
	threadID := runThreadID
	if threadID == "" {
		threadID = fmt.Sprintf("cli-%d", os.Getpid())
	}
	return lease.Identity{ThreadID: threadID, PID: os.Getpid()}
}

func getGoal(args []string, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading goal file: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 1 && args[0] != "" {
		return args[0], nil
	}
	return "", fmt.Errorf("a goal is required, either as an argument or via --file")
}
