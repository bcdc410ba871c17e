package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPaths(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "paths SRC_HOST DST_HOST",
		Short: "Print the primary and backup paths between two hosts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			r, err := e.router.ComputeRouting(args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s on %s) -> %s (%s on %s)\n",
				r.Source.ID, r.Source.Address, r.Source.Node,
				r.Target.ID, r.Target.Address, r.Target.Node)
			for i, p := range r.Paths.Paths() {
				fmt.Fprintf(out, "Path %d: %v (%d hops)\n", i+1, p, p.Hops())
			}
			if !r.Paths.HasBackup() {
				fmt.Fprintln(out, "No disjoint backup path")
			}
			return nil
		},
	}
}
