package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/engine"
)

func dlqCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry dead letter entries",
	}
	cmd.AddCommand(dlqListCmd(a), dlqRetryCmd(a))
	return cmd
}

func dlqListCmd(a *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letter entries, oldest failure first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), 1, func(eng *engine.Engine) error {
				entries, err := eng.DeadLetters(cmd.Context(), dlq.ListOpts{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "dead letter queue is empty")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tATTEMPTS\tFAILED_AT\tLAST_ERROR\tCOMMAND")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
						e.ID, e.Attempts, e.FailedAt.UTC().Format(time.RFC3339), oneLine(e.LastError), e.Command)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries, 0 for all")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of entries to skip")
	return cmd
}

func dlqRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Move a dead letter entry back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), 1, func(eng *engine.Engine) error {
				j, err := eng.RetryDeadLetter(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", j.ID)
				return nil
			})
		},
	}
}
