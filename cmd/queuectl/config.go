package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/xraph/queuectl/engine"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change queue settings shared by all workers",
	}
	cmd.AddCommand(configGetCmd(a), configSetCmd(a))
	return cmd
}

func configGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get [KEY]",
		Short: "Print one setting, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), 1, func(eng *engine.Engine) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					v, ok, err := eng.Settings().Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("config key %q is not set", args[0])
					}
					fmt.Fprintln(out, v)
					return nil
				}

				all, err := eng.Settings().All(cmd.Context())
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(all))
				for k := range all {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "%s=%s\n", k, all[k])
				}
				return nil
			})
		},
	}
}

func configSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change a setting, e.g. max_retries 5 or backoff_base 3",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), 1, func(eng *engine.Engine) error {
				if err := eng.Settings().Set(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", args[0], args[1])
				return nil
			})
		},
	}
}
