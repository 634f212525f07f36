// Package commands implements the crewd CLI using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "crewd",
	Short: "Categorized worker-pool task orchestrator",
	Long: `crewd routes submitted tasks to named workers by category, runs them
on a fixed pool of execution loops, retries failures, and persists a status
snapshot for dashboards.

Configure workers, handlers and the snapshot sink in crew.yaml.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "crew.yaml", "path to config file (JSON or YAML)")
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}
