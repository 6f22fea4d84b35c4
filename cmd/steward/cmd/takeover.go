package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/lease"
)

var takeoverCmd = &cobra.Command{
	Use:   "takeover",
	Short: "Take over a run from a dead or stale holder",
	Long: `Adopt the incomplete steps of a run whose lease holder has expired,
died, or gone stale. The prior lease is marked TAKEN_OVER, a new lease is
granted to this process, and the succession is recorded in the event log.

Takeover is refused while the current holder is alive and fresh, and a
run that was already taken over cannot be taken over again until the
successor establishes its own lease.`,
	RunE: runTakeover,
}

var (
	takeoverTaskID   string
	takeoverRunID    string
	takeoverThreadID string
	takeoverLeaseTTL int
)

func init() {
	rootCmd.AddCommand(takeoverCmd)

	takeoverCmd.Flags().StringVar(&takeoverTaskID, "task", "task-main", "Task identifier")
	takeoverCmd.Flags().StringVar(&takeoverRunID, "run", "", "Run identifier (default: most recent run)")
	takeoverCmd.Flags().StringVar(&takeoverThreadID, "thread-id", "", "Successor thread id (default: cli-<pid>)")
	takeoverCmd.Flags().IntVar(&takeoverLeaseTTL, "lease-ttl", 0, "New lease TTL in seconds (default from config)")
}

func runTakeover(_ *cobra.Command, _ []string) error {
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

	runID, err := requireRunID(ctx, takeoverRunID, st)
	if err != nil {
		return err
	}

	threadID := takeoverThreadID
	if threadID == "" {
		threadID = fmt.Sprintf("cli-%d", os.Getpid())
	}
	successor := lease.Identity{ThreadID: threadID, PID: os.Getpid()}

	ttl := cfg.Lease.TTL()
	if takeoverLeaseTTL > 0 {
		ttl = time.Duration(takeoverLeaseTTL) * time.Second
	}

	mgr := lease.NewManager(st, logger)
	result, err := mgr.Takeover(ctx, takeoverTaskID, runID, successor, ttl)
	if err != nil {
		return err
	}

	fmt.Printf("took over run %s from %s at %s\n",
		runID, result.PriorHolder, result.TakenOverAt.Format(time.RFC3339))
	if len(result.AdoptedStepIDs) == 0 {
		fmt.Println("no incomplete steps to adopt")
	} else {
		fmt.Printf("adopted steps: %s\n", strings.Join(result.AdoptedStepIDs, ", "))
	}
	return nil
}
