package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"build-bridge/src/broker"
	"build-bridge/src/contracts"
	"build-bridge/src/logger"
	"build-bridge/src/provider"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print connector events as they are published",
	Long: `Subscribes to the posted-build and completed-run topics of a Kafka
compatible broker and prints each event as one JSON line until interrupted.

Example:
  bldbridge events --brokers localhost:19092`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		brokers := splitBrokers(cmd.Flag("brokers").Value.String())
		if len(brokers) == 0 {
			return &provider.ConfigurationError{
				Message: "no brokers given",
				Hint:    "Pass --brokers or set REDPANDA_BROKERS",
			}
		}
		topic, _ := cmd.Flags().GetString("topic")
		group, _ := cmd.Flags().GetString("group")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := broker.New(brokers, logger.New(cmd.ErrOrStderr(), logger.Options{Level: "Info", Console: true}))
		if err != nil {
			return err
		}
		defer b.Close()

		builds, err := b.Subscribe(ctx, topic, group)
		if err != nil {
			return err
		}
		runs, err := b.Subscribe(ctx, contracts.TopicRunsCompleted, group)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for {
			select {
			case msg, ok := <-builds:
				if !ok {
					return nil
				}
				fmt.Fprintf(out, "%s %s\n", msg.Topic, msg.Value)
			case msg, ok := <-runs:
				if !ok {
					return nil
				}
				fmt.Fprintf(out, "%s %s\n", msg.Topic, msg.Value)
			case <-ctx.Done():
				return nil
			}
		}
	},
}

func init() {
	eventsCmd.Flags().String("brokers", os.Getenv("REDPANDA_BROKERS"), "Comma separated seed brokers")
	eventsCmd.Flags().String("topic", contracts.TopicBuildsPosted, "Topic of posted builds")
	eventsCmd.Flags().String("group", "bldbridge-events", "Consumer group")
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
