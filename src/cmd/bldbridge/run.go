package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"build-bridge/src/logger"
	"build-bridge/src/runner"
)

var runCmd = &cobra.Command{
	Use:   "run <config> [config...]",
	Short: "Post unrecorded builds for each configuration",
	Long: `Processes each configuration in turn under one process lock. A failing
configuration is logged and the next one still runs; the exit status is
non-zero if any of them failed.

Example:
  bldbridge run jenkins
  bldbridge run jenkins nightly.yml --table`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, _ := cmd.Flags().GetBool("table")
		return runOnce(cmd, args, false, table)
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <config> [config...]",
	Short: "Show the builds a run would post without posting them",
	Long: `Runs in preview mode: both histories are read and compared, the builds
that would be posted are listed, nothing is created in AgileCentral and
the time file is left untouched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, args, true, true)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve <config> [config...] --schedule <cron>",
	Short: "Run the configurations on a cron schedule",
	Long: `Runs the configurations every time the five field cron schedule fires,
until interrupted. A run still in progress when the schedule fires again
is not overlapped.

Example:
  bldbridge serve jenkins --schedule "*/15 * * * *"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, _ := cmd.Flags().GetString("schedule")
		tz, _ := cmd.Flags().GetString("tz")
		now, _ := cmd.Flags().GetBool("now")

		loc, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r := newRunner(cmd, false, false)
		defer r.Close()

		log := logger.NewConsoleLogger()
		sched, err := runner.NewScheduler(r, args, spec, loc, log)
		if err != nil {
			return err
		}
		if now {
			sched.RunOnce(ctx)
		}
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("table", false, "Print a table of the handled builds")

	serveCmd.Flags().String("schedule", "*/15 * * * *", "Five field cron schedule")
	serveCmd.Flags().String("tz", "UTC", "Time zone the schedule is read in")
	serveCmd.Flags().Bool("now", false, "Also run once immediately")
}

func newRunner(cmd *cobra.Command, preview, table bool) *runner.Runner {
	opts := runner.Options{
		ConfigDir: configDir,
		LogDir:    logDir,
		Preview:   preview,
		Console:   cmd.ErrOrStderr(),
	}
	if table {
		opts.Out = cmd.OutOrStdout()
	}
	return runner.New(opts)
}

func runOnce(cmd *cobra.Command, names []string, preview, table bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	r := newRunner(cmd, preview, table)
	defer r.Close()

	_, err := r.Run(ctx, names)
	return err
}
