package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/runtime"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Fold a run's history and audit its transitions",
	Long: `Replay the persisted snapshot history of a run and check every
recorded status transition against the pipeline graph. The replayed
terminal status is compared with the primary state document; a mismatch
means the two have diverged.`,
	RunE: runReplay,
}

var (
	replayTaskID string
	replayRunID  string
	replayJSON   bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayTaskID, "task", "task-main", "Task identifier")
	replayCmd.Flags().StringVar(&replayRunID, "run", "", "Run identifier (default: most recent run)")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Emit the replay result as JSON")
}

func runReplay(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = core.CloseStore(st) }()

	ctx := context.Background()

	runID, err := requireRunID(ctx, replayRunID, st)
	if err != nil {
		return err
	}

	result, err := runtime.Replay(ctx, st, replayTaskID, runID)
	if err != nil {
		return err
	}

	if replayJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("run %s: %d transitions, %d events, final status %s\n",
		result.RunID, len(result.Transitions), result.EventCount, result.FinalStatus)
	for _, tr := range result.Transitions {
		fmt.Printf("  %-10s %s -> %s  %s\n", tr.Node, tr.FromStatus, tr.ToStatus, tr.Timestamp)
	}
	if !result.EdgesAllLegal {
		return fmt.Errorf("replay found transitions outside the pipeline graph")
	}
	return nil
}
