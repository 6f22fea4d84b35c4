package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	stateDir  string
	backend   string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Durable task pipeline orchestrator",
	Long: `steward drives multi-step tasks through a staged pipeline with a
durable, event-sourced state store. Every status transition is validated
against the pipeline graph and persisted before execution continues, so
a run can be stopped, inspected, recovered, or taken over by a successor
process at any point.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .steward/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".steward/state",
		"state store directory")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "file",
		"state store backend (file, sqlite)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("state.dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindPFlag("state.backend", rootCmd.PersistentFlags().Lookup("backend"))
}
