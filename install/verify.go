package install

import (
	"context"
	"errors"
	"fmt"

	"dualpath/datapath"
	"dualpath/flowrule"
	"dualpath/routing"
	"dualpath/sink"
	"dualpath/topology"
)

// ErrVerify is returned when simulated traffic does not follow a plan.
var ErrVerify = errors.New("plan verification failed")

// Verify replays plan on simulated switches. Each path alone must carry a
// connection both ways along its nodes, and with everything installed
// traffic must take the primary path.
func Verify(ctx context.Context, plan Plan) error {
	src, dst := plan.Routing.Source, plan.Routing.Target
	for rank, pr := range plan.Paths {
		rules := append(append([]flowrule.FlowRule(nil), pr.Rules...), plan.ARP...)
		if err := verifyPath(ctx, plan.Topology, rules, pr.Path, src, dst); err != nil {
			return fmt.Errorf("path %d %v: %w", rank+1, pr.Path, err)
		}
	}
	if len(plan.Paths) > 1 {
		if err := verifyPath(ctx, plan.Topology, plan.Rules(), plan.Paths[0].Path, src, dst); err != nil {
			return fmt.Errorf("all paths installed: %w", err)
		}
	}
	return nil
}

func verifyPath(ctx context.Context, topo *topology.Topology, rules []flowrule.FlowRule, path routing.Path, src, dst topology.Host) error {
	sim := datapath.NewSimulator(topo)
	if _, err := sink.Install(ctx, sim, rules); err != nil {
		return err
	}

	forward, err := sim.Send(src.Address, dst.Address)
	if err != nil {
		return fmt.Errorf("%w: %s -> %s: %w", ErrVerify, src.ID, dst.ID, err)
	}
	if got := routing.Path(forward.Nodes()); !got.Equal(path) || forward.Host.ID != dst.ID {
		return fmt.Errorf("%w: %s -> %s went %v to %s", ErrVerify, src.ID, dst.ID, got, forward.Host.ID)
	}

	reverse, err := sim.Send(dst.Address, src.Address)
	if err != nil {
		return fmt.Errorf("%w: %s -> %s: %w", ErrVerify, dst.ID, src.ID, err)
	}
	want := make(routing.Path, len(path))
	for i, n := range path {
		want[len(path)-1-i] = n
	}
	if got := routing.Path(reverse.Nodes()); !got.Equal(want) || reverse.Host.ID != src.ID {
		return fmt.Errorf("%w: %s -> %s went %v to %s", ErrVerify, dst.ID, src.ID, got, reverse.Host.ID)
	}
	for _, hop := range reverse.Hops {
		if hop.State != flowrule.TrackedEstablished {
			return fmt.Errorf("%w: reply on %s not established", ErrVerify, hop.Node)
		}
	}
	return nil
}
