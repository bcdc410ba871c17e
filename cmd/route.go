package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"dualpath/install"
	"dualpath/routing"
)

func newRoute(e *env) *cobra.Command {
	var flags struct {
		dryRun bool
		verify bool
	}
	cmd := &cobra.Command{
		Use:   "route SRC_HOST DST_HOST [SRC_HOST DST_HOST...]",
		Short: "Compute paths between host pairs and install their rules",
		Long: `'route' computes the primary and backup paths of every host pair,
synthesizes the connection tracking rules of both paths and installs them
through the configured sink. More than one pair is installed concurrently.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected host pairs, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := context.Background()

			reqs := make([]routing.Request, 0, len(args)/2)
			for i := 0; i < len(args); i += 2 {
				reqs = append(reqs, routing.Request{SourceHost: args[i], TargetHost: args[i+1]})
			}

			inst := install.NewInstaller(e.router, nil)
			inst.Tiers = e.cfg.Tiers
			inst.ARP = e.cfg.ARP
			inst.ClearFirst = e.cfg.Sink.ClearFirst

			out := cmd.OutOrStdout()
			if flags.dryRun || flags.verify {
				for _, req := range reqs {
					plan, err := inst.Plan(ctx, req)
					if err != nil {
						return err
					}
					printPlan(out, plan)
					if flags.verify {
						if err := install.Verify(ctx, plan); err != nil {
							return fmt.Errorf("%s: %w", req, err)
						}
						fmt.Fprintf(out, "%s: verified on simulated switches\n", req)
					}
				}
				if flags.dryRun {
					return nil
				}
			}

			s, err := e.openSink(e.cfg.Sink.Kind)
			if err != nil {
				return err
			}
			defer closeSink(s)
			inst.Sink = s

			if len(reqs) == 1 {
				result, err := inst.Install(ctx, reqs[0])
				printResult(out, reqs[0], result)
				return err
			}
			results, err := inst.InstallBatch(ctx, reqs, e.cfg.Pool)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				printResult(out, r.Request, r.Result)
				if r.Err != nil {
					fmt.Fprintf(out, "%s: %v\n", r.Request, r.Err)
					failed++
				}
			}
			total := install.Summarize(results)
			fmt.Fprintf(out, "Total: applied %d of %d rules\n", len(total.Applied), total.Total)
			if failed > 0 {
				return fmt.Errorf("%d of %d requests failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&flags.dryRun, "dry-run", "n", false, "Print the rules without installing them")
	cmd.Flags().BoolVar(&flags.verify, "verify", false, "Check the rules on simulated switches first")
	return cmd
}

func printPlan(out io.Writer, plan install.Plan) {
	for i, pr := range plan.Paths {
		fmt.Fprintf(out, "Path %d: %v (priority %d, table %d)\n", i+1, pr.Path, pr.Tier.Priority, pr.Tier.Table)
		for _, r := range pr.Rules {
			fmt.Fprintf(out, "  %s: %s\n", r.Node, r)
		}
	}
	if len(plan.ARP) > 0 {
		fmt.Fprintf(out, "ARP: %s on %d switches\n", plan.ARP[0], len(plan.ARP))
	}
}

func printResult(out io.Writer, req routing.Request, result install.Result) {
	if len(result.Plan.Paths) == 0 {
		return
	}
	for i, pr := range result.Plan.Paths {
		fmt.Fprintf(out, "%s path %d: %v\n", req, i+1, pr.Path)
	}
	fmt.Fprintf(out, "%s: applied %d of %d rules\n", req, len(result.Report.Applied), result.Report.Total)
}
