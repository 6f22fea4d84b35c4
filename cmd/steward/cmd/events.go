package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stewardlabs/steward/internal/core"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the event log of a task",
	Long: `Print the append-only event log of a task in log order. The log is
the total order of observable causality: step lifecycle, acceptance
verdicts, liveness escalations, lease successions, and system notices.`,
	RunE: runEvents,
}

var (
	eventsTaskID string
	eventsLimit  int
	eventsJSON   bool
)

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().StringVar(&eventsTaskID, "task", "task-main", "Task identifier")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum events to print (0 for all)")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "Emit events as JSON")
}

func runEvents(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = core.CloseStore(st) }()

	events, err := st.ListEventsByTask(context.Background(), eventsTaskID, eventsLimit)
	if err != nil {
		return err
	}

	if eventsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	if len(events) == 0 {
		fmt.Println("no events found")
		return nil
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s  %-5s %-18s %s",
			ev.Timestamp.Format(time.RFC3339), ev.Severity, ev.Type, ev.RunID)
		if ev.StepID != "" {
			line += " " + ev.StepID
		}
		fmt.Println(line)
	}
	return nil
}
