package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/queuectl/engine"
	"github.com/xraph/queuectl/job"
)

func enqueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue JSON",
		Short: `Add a job, e.g. '{"id":"job1","command":"sleep 2","max_retries":3}'`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := engine.ParseEnqueueRequest(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), 1, func(eng *engine.Engine) error {
				j, err := eng.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s\n", j.ID)
				return nil
			})
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var (
		state  string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in one state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := job.ParseState(state)
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), 1, func(eng *engine.Engine) error {
				jobs, err := eng.List(cmd.Context(), st, job.ListOpts{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				printJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", string(job.StatePending),
		"pending, processing, completed or dead")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs, 0 for all")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts per state and registered workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), 1, func(eng *engine.Engine) error {
				st, err := eng.Status(cmd.Context())
				if err != nil {
					return err
				}
				workers, err := a.supervisor().Workers(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				for _, s := range job.States {
					fmt.Fprintf(tw, "%s\t%d\n", s, st.Counts[s])
				}
				fmt.Fprintf(tw, "total\t%d\n", st.Total())
				_ = tw.Flush()

				alive := 0
				for _, w := range workers {
					if w.Alive {
						alive++
					}
				}
				fmt.Fprintf(out, "\nworkers: %d registered, %d alive\n", len(workers), alive)
				for _, w := range workers {
					fmt.Fprintf(out, "  pid %d alive=%t\n", w.PID, w.Alive)
				}
				return nil
			})
		},
	}
}

func recoverCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Requeue jobs stuck in processing",
		Long: "Returns jobs that have been processing for longer than --older-than to pending.\n" +
			"Use it after a worker crashed mid-job; a job still running elsewhere would run twice.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), 1, func(eng *engine.Engine) error {
				n, err := eng.RecoverStale(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 10*time.Minute, "minimum time spent in processing")
	return cmd
}

func pingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check store connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store reachable\n", a.cfg.Store)
			return nil
		},
	}
}

func printJobs(w io.Writer, jobs []*job.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "no jobs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tATTEMPTS\tMAX_RETRIES\tNEXT_RUN_AT\tCOMMAND")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			j.ID, j.State, j.Attempts, j.MaxRetries, formatTime(j.NextRunAt), j.Command)
	}
	_ = tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
