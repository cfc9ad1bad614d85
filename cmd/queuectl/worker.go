package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/queuectl/engine"
	"github.com/xraph/queuectl/worker"
)

// startupAttempts is how many times `worker run` pings the store before
// giving up.
const startupAttempts = 10

func workerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage worker processes",
	}
	cmd.AddCommand(workerStartCmd(a), workerStopCmd(a), workerRunCmd(a))
	return cmd
}

func workerStartCmd(a *app) *cobra.Command {
	var (
		count  int
		detach bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Spawn worker processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			sup := a.supervisor()
			if err := sup.Start(ctx, count, detach); err != nil {
				return err
			}
			if detach {
				fmt.Fprintf(cmd.OutOrStdout(), "started %d worker(s), pids in %s\n", count, sup.Registry().Path())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of workers")
	cmd.Flags().BoolVar(&detach, "detach", false, "run workers in the background and return")
	return cmd
}

func workerStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop every registered worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results, err := a.supervisor().Stop(cmd.Context())
			out := cmd.OutOrStdout()
			if err == nil && len(results) == 0 {
				fmt.Fprintln(out, "no workers registered")
				return nil
			}
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(out, "pid %d: %v\n", r.PID, r.Err)
					continue
				}
				fmt.Fprintf(out, "pid %d: %s\n", r.PID, r.Outcome)
			}
			if err != nil {
				return fmt.Errorf("stop workers: %w", err)
			}
			return nil
		},
	}
}

func workerRunCmd(a *app) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:    "run",
		Short:  "Run one worker in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return a.withEngine(ctx, startupAttempts, func(eng *engine.Engine) error {
				return eng.NewWorker(worker.WithIndex(index)).Run(ctx)
			})
		},
	}
	cmd.Flags().IntVar(&index, "id", 0, "worker index, used in the worker ID")
	return cmd
}
