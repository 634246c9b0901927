package main

import (
	"strings"

	"github.com/spf13/cobra"

	"build-bridge/src/config"
	"build-bridge/src/mcp"
	"build-bridge/src/provider"
	"build-bridge/src/report"
	"build-bridge/src/runner"
	"build-bridge/src/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs [config]",
	Short: "List recorded runs from the run ledger",
	Long: `Reads the run ledger named by a configuration's Service.Ledger section,
or by --driver and --dsn, and lists the most recent runs. With --run the
builds posted by one run are listed instead.

Example:
  bldbridge runs jenkins --limit 5
  bldbridge runs --driver sqlite --dsn log/ledger.db --run <id>`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, name, err := openLedger(cmd, args)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		out := report.NewRenderer(cmd.OutOrStdout())
		if id, _ := cmd.Flags().GetString("run"); id != "" {
			run, err := st.GetRun(ctx, id)
			if err != nil {
				return err
			}
			builds, err := st.GetPostedBuilds(ctx, id)
			if err != nil {
				return err
			}
			out.PostedBuilds(run, builds)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, name, limit)
		if err != nil {
			return err
		}
		out.Runs(runs)
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp [config]",
	Short: "Serve the run ledger to MCP clients on stdio",
	Long: `Starts a Model Context Protocol server on stdin/stdout exposing the
list_runs and get_run tools over the run ledger. The ledger is chosen the
same way as for the runs command.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _, err := openLedger(cmd, args)
		if err != nil {
			return err
		}
		defer st.Close()

		return mcp.NewServer(st, runner.Version).Run()
	},
}

func init() {
	for _, c := range []*cobra.Command{runsCmd, mcpCmd} {
		c.Flags().String("driver", "", "Ledger driver (sqlite or postgres), overrides the configuration")
		c.Flags().String("dsn", "", "Ledger DSN, overrides the configuration")
	}
	runsCmd.Flags().Int("limit", 20, "Max runs to list")
	runsCmd.Flags().String("run", "", "Show the builds posted by this run")
}

// openLedger opens the persistent ledger selected by the optional config
// argument and the --driver/--dsn flags. The returned name filters runs to
// that configuration.
func openLedger(cmd *cobra.Command, args []string) (store.Store, string, error) {
	var lc config.LedgerConfig
	var name string
	if len(args) == 1 {
		path, err := config.Resolve(configDir, args[0])
		if err != nil {
			return nil, "", err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		lc, name = cfg.Service.Ledger, cfg.Name
	}
	if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
		lc.Driver = driver
	}
	if dsn, _ := cmd.Flags().GetString("dsn"); dsn != "" {
		lc.DSN = dsn
	}

	switch strings.ToLower(lc.Driver) {
	case "", "memory":
		return nil, "", &provider.ConfigurationError{
			Message: "no persistent run ledger configured",
			Hint:    "Set Service.Ledger.Driver to sqlite or postgres, or pass --driver and --dsn",
		}
	}
	st, err := store.Open(lc.Driver, lc.DSN)
	if err != nil {
		return nil, "", err
	}
	return st, name, nil
}
