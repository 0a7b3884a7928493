// Package commands implements the contexd CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/junctive/contexd/config"
	"github.com/junctive/contexd/logger"
)

var (
	configPath string
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:   "contexd",
	Short: "Context entity store with subscription-driven notifications",
	Long: `contexd stores context entities, answers attribute-filtered queries,
and pushes HTTP notifications to subscribers when watched attributes change.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Initialize(jsonLogs)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (TOML)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}
