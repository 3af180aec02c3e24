package main

import (
	"github.com/openmined/dirsync/internal/dirsync"
	"github.com/spf13/cobra"
)

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plan [source] [destination]",
		Aliases: []string{"preview"},
		Short:   "Show what a sync would do without changing anything",
		Args:    cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolveRunOptions(a.v, args)
			if err != nil {
				return err
			}
			plan, err := dirsync.NewEngine().Preview(cmd.Context(), opts.Source, opts.Dest, opts.Policy, opts.Config)
			if err != nil {
				return err
			}
			showSkips, _ := cmd.Flags().GetBool("all")
			printPlan(cmd.OutOrStdout(), plan, showSkips)
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().BoolP("all", "a", false, "list skipped paths too")
	return cmd
}
