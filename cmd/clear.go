package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dualpath/sink"
	"dualpath/topology"
)

func newClear(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [SWITCH...]",
		Short: "Remove every flow from the given switches, all when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			topo, err := e.router.Topology()
			if err != nil {
				return err
			}
			nodes := topo.Nodes()
			if len(args) > 0 {
				nodes = nodes[:0]
				for _, a := range args {
					if !topo.HasNode(topology.NodeID(a)) {
						return fmt.Errorf("clear %s: %w", a, topology.ErrUnknownNode)
					}
					nodes = append(nodes, topology.NodeID(a))
				}
			}

			s, err := e.openSink(e.cfg.Sink.Kind)
			if err != nil {
				return err
			}
			defer closeSink(s)

			ok, err := sink.ClearAll(context.Background(), s, nodes)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("sink %s cannot clear flows", e.cfg.Sink.Kind)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d switches\n", len(nodes))
			return nil
		},
	}
}
