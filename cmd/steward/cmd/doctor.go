package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stewardlabs/steward/internal/diagnostics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the installation and host health",
	Long: `Run health checks against the configuration, the durable store,
and the host: config validity, state directory writability, store
openability, disk space, memory, and load.`,
	RunE: runDoctor,
}

var doctorJSON bool

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Emit the report as JSON")
}

func runDoctor(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	report := diagnostics.Run(context.Background(), cfg)

	if doctorJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Checks {
			marker := "✓"
			if c.Status == diagnostics.CheckWarn {
				marker = "!"
			} else if c.Status == diagnostics.CheckFail {
				marker = "✗"
			}
			fmt.Printf("%s %-16s %s\n", marker, c.Name, c.Detail)
		}
	}

	if !report.Healthy {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}
