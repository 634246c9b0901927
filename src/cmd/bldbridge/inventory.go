package main

import (
	"github.com/spf13/cobra"

	"build-bridge/src/config"
	"build-bridge/src/jenkins"
	"build-bridge/src/logger"
	"build-bridge/src/provider"
	"build-bridge/src/report"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory <config>",
	Short: "List the folders, views and jobs of the Jenkins server",
	Long: `Connects to the Jenkins server of a configuration and prints every
folder, view and job reachable within MaxDepth, by fully-qualified path.
Use it to find the names to put in the Jobs, Views and Folders sections.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.Resolve(configDir, args[0])
		if err != nil {
			return err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if depth, _ := cmd.Flags().GetInt("depth"); depth > 0 {
			if depth > config.MaxTreeDepth {
				return provider.NewConfigurationError("--depth %d exceeds the supported maximum of %d", depth, config.MaxTreeDepth)
			}
			cfg.Jenkins.MaxDepth = depth
		}

		log := logger.New(cmd.ErrOrStderr(), logger.Options{Level: cfg.Service.LogLevel, Console: true})
		jc := jenkins.NewConnection(cfg.Jenkins, log)
		if err := jc.Connect(cmd.Context()); err != nil {
			return err
		}

		report.NewRenderer(cmd.OutOrStdout()).Inventory(jc.Version(), jc.Inventory())
		return nil
	},
}

func init() {
	inventoryCmd.Flags().Int("depth", 0, "Override Jenkins.MaxDepth")
}
