// Package main provides the bldbridge CLI, which posts Jenkins builds that
// AgileCentral has no record of.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"build-bridge/src/provider"
	"build-bridge/src/runner"
)

var (
	configDir string
	logDir    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bldbridge",
	Short: "bldbridge - reflect Jenkins builds in AgileCentral",
	Long: `bldbridge compares the recent build history of the Jenkins jobs, views
and folders named in a connector configuration with the Builds recorded
in AgileCentral, and posts the missing ones, oldest first.

Configurations are read from the config directory; logs, time files and
the default run ledger live in the log directory.`,
	Version:       runner.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", runner.DefaultConfigDir, "Directory holding connector configurations")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", runner.DefaultLogDir, "Directory for log and time files")

	rootCmd.AddCommand(runCmd, previewCmd, serveCmd, inventoryCmd, runsCmd, eventsCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, provider.WrapError(err))
		os.Exit(1)
	}
}
