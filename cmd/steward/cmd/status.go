package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stewardlabs/steward/internal/core"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted state of a run",
	Long: `Print the durable pipeline state and liveness document of a run.
Without --run the most recently updated run is shown; with --all a
summary table of every known run is printed.

A corrupt primary document is reported with its diagnostic code rather
than silently skipped; use 'steward resume' to recover from the newest
valid checkpoint.`,
	RunE: runStatus,
}

var (
	statusRunID  string
	statusFormat string
	statusAll    bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusRunID, "run", "", "Run identifier (default: most recent run)")
	statusCmd.Flags().StringVarP(&statusFormat, "format", "o", "text", "Output format (text, json, yaml)")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "List all known runs")
}

// statusReport is the serializable shape of 'steward status'.
type statusReport struct {
	State     *core.PipelineState   `json:"state" yaml:"state"`
	Heartbeat *core.HeartbeatStatus `json:"heartbeat,omitempty" yaml:"heartbeat,omitempty"`
}

func runStatus(_ *cobra.Command, _ []string) error {
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

	if statusAll {
		summaries, err := st.ListSessions(ctx)
		if err != nil {
			return err
		}
		return renderSummaries(summaries)
	}

	runID, err := requireRunID(ctx, statusRunID, st)
	if err != nil {
		return err
	}

	state, err := st.LoadState(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", runID, err)
	}
	hb, err := st.LoadHeartbeat(ctx, runID)
	if err != nil {
		return err
	}

	return renderReport(statusReport{State: state, Heartbeat: hb})
}

func renderReport(report statusReport) error {
	switch statusFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(report)
	case "text":
		printTextReport(report)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json, or yaml)", statusFormat)
	}
}

func printTextReport(report statusReport) {
	s := report.State
	fmt.Printf("run:     %s\n", s.RunID)
	fmt.Printf("task:    %s\n", s.TaskID)
	fmt.Printf("status:  %s\n", s.Status)
	fmt.Printf("goal:    %s\n", s.Goal)
	fmt.Printf("updated: %s\n", s.UpdatedAt.Format(time.RFC3339))
	if s.CurrentStep != "" {
		fmt.Printf("step:    %s\n", s.CurrentStep)
	}
	fmt.Printf("steps:   %d\n", len(s.Steps))
	for _, step := range s.Steps {
		fmt.Printf("  %-12s %-10s attempts=%d\n", step.ID, step.Status, step.Attempts)
	}
	if hb := report.Heartbeat; hb != nil {
		fmt.Printf("liveness: %s", hb.Status)
		if hb.ReasonCode != "" {
			fmt.Printf(" (%s)", hb.ReasonCode)
		}
		fmt.Println()
	}
}

func renderSummaries(summaries []core.RunSummary) error {
	switch statusFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(summaries)
	case "text":
		if len(summaries) == 0 {
			fmt.Println("no runs found")
			return nil
		}
		fmt.Printf("%-28s %-12s %-10s %s\n", "RUN", "TASK", "STATUS", "UPDATED")
		for _, s := range summaries {
			fmt.Printf("%-28s %-12s %-10s %s\n",
				s.RunID, s.TaskID, s.Status, s.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json, or yaml)", statusFormat)
	}
}
