package flowrule

import (
	"errors"
	"fmt"
	"net/netip"

	"dualpath/routing"
	"dualpath/topology"
)

var (
	ErrEmptyPath = errors.New("empty path")
	// ErrPathEndpoint means a host is not attached to the path end its
	// traffic has to leave from.
	ErrPathEndpoint = errors.New("host not attached to path endpoint")
)

// Direction of traffic along a path.
type Direction uint8

const (
	Forward Direction = iota // source to target
	Reverse                  // target to source
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Synthesize produces the rules carrying traffic between src and dst over
// path in both directions. For every node and direction it emits, in order,
// the untracked rule redirecting to the state table, the new-connection rule
// committing and forwarding, and the established rule forwarding. Forward
// rules for all nodes come first, then reverse rules. The result always
// holds 6*len(path) rules sharing priority and table.
func Synthesize(topo *topology.Topology, path routing.Path, src, dst netip.Addr, priority, table int) ([]FlowRule, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}
	source, err := topo.HostByAddress(src)
	if err != nil {
		return nil, fmt.Errorf("synthesize %v: source: %w", path, err)
	}
	target, err := topo.HostByAddress(dst)
	if err != nil {
		return nil, fmt.Errorf("synthesize %v: target: %w", path, err)
	}
	if source.Node != path[0] {
		return nil, fmt.Errorf("synthesize %v: %s is on %s: %w", path, source.ID, source.Node, ErrPathEndpoint)
	}
	if target.Node != path[len(path)-1] {
		return nil, fmt.Errorf("synthesize %v: %s is on %s: %w", path, target.ID, target.Node, ErrPathEndpoint)
	}

	rules := make([]FlowRule, 0, 6*len(path))
	for _, dir := range []Direction{Forward, Reverse} {
		from, to := src, dst
		if dir == Reverse {
			from, to = dst, src
		}
		for i, node := range path {
			port, err := egressPort(topo, path, i, dir, source, target)
			if err != nil {
				return nil, fmt.Errorf("synthesize %v: %s %s: %w", path, dir, node, err)
			}
			rules = append(rules, stateRules(node, from, to, port, priority, table)...)
		}
	}
	return rules, nil
}

// egressPort is the port node path[i] sends traffic of direction dir out of:
// a host port at the exit end of the path, the link port towards the next
// hop everywhere else.
func egressPort(topo *topology.Topology, path routing.Path, i int, dir Direction, source, target topology.Host) (int, error) {
	if dir == Forward {
		if i == len(path)-1 {
			return target.Port, nil
		}
		mine, _, err := topo.PortsBetween(path[i], path[i+1])
		return mine, err
	}
	if i == 0 {
		return source.Port, nil
	}
	_, mine, err := topo.PortsBetween(path[i-1], path[i])
	return mine, err
}

func stateRules(node topology.NodeID, src, dst netip.Addr, port, priority, table int) []FlowRule {
	match := func(state CtState) Match {
		return Match{Protocol: ProtocolIPv4, Src: src, Dst: dst, State: state}
	}
	return []FlowRule{
		{
			Node:     node,
			Table:    0,
			Priority: priority,
			Match:    match(Untracked),
			Action:   Action{Kind: ActionRecirculate, Table: table},
		},
		{
			Node:     node,
			Table:    table,
			Priority: priority,
			Match:    match(TrackedNew),
			Action:   Action{Kind: ActionCommitOutput, Port: port},
		},
		{
			Node:     node,
			Table:    table,
			Priority: priority,
			Match:    match(TrackedEstablished),
			Action:   Action{Kind: ActionOutput, Port: port},
		},
	}
}
