package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-builders/knock-backend/internal/config"
	"github.com/open-builders/knock-backend/internal/queue"
)

func dlqCommand() *cobra.Command {
	var queueName string
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered queue messages",
	}
	cmd.PersistentFlags().StringVar(&queueName, "queue", "commands", "queue to operate on: commands or fulfillment")
	cmd.AddCommand(dlqListCommand(&queueName), dlqReplayCommand(&queueName))
	return cmd
}

func queuePrefix(cfg *config.Config, name string) (string, error) {
	switch name {
	case "commands":
		return cfg.Queue.CommandPrefix, nil
	case "fulfillment":
		return cfg.Queue.FulfillmentPrefix, nil
	}
	return "", fmt.Errorf("unknown queue %q", name)
}

func dlqListCommand(queueName *string) *cobra.Command {
	var count int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the oldest dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			prefix, err := queuePrefix(cfg, *queueName)
			if err != nil {
				return err
			}
			rdb := openRedis(cmd.Context(), cfg)
			defer rdb.Close()

			dead := queue.NewDeadLetters(rdb, prefix)
			total, err := dead.Len(cmd.Context())
			if err != nil {
				return err
			}
			letters, err := dead.List(cmd.Context(), count)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPARTITION\tDEDUP\tDELIVERIES\tFAILED AT\tREASON")
			for _, dl := range letters {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					dl.ID, dl.Partition, dl.DedupID, dl.Deliveries, dl.FailedAt.Format(time.RFC3339), dl.Reason)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d shown\n", len(letters), total)
			return nil
		},
	}
	cmd.Flags().Int64Var(&count, "count", 20, "maximum entries to show")
	return cmd
}

func dlqReplayCommand(queueName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <id>...",
		Short: "Move dead letters back onto their partitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			prefix, err := queuePrefix(cfg, *queueName)
			if err != nil {
				return err
			}
			rdb := openRedis(cmd.Context(), cfg)
			defer rdb.Close()

			dead := queue.NewDeadLetters(rdb, prefix)
			for _, id := range args {
				dl, err := dead.Replay(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("replay %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %s onto partition %s\n", id, dl.Partition)
			}
			return nil
		},
	}
}
