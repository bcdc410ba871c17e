// Package datapath simulates switches running installed flow rules so a
// rule set can be checked without a real network.
//
// Each simulated switch has numbered tables of rules and a connection
// tracking table. A packet enters a switch in table 0 as untracked, a
// recirculate action runs it through conntrack and resubmits it to another
// table, and the first matching rule by descending priority decides what
// happens next. A connection is new until some switch on its way commits
// it; later packets of either direction are established on that switch.
package datapath

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"dualpath/flowrule"
	"dualpath/topology"
)

var (
	ErrDropped = errors.New("packet dropped")
	ErrLoop    = errors.New("forwarding loop")
)

// maxRecirculations bounds the conntrack passes a packet may take on one
// switch.
const maxRecirculations = 4

// Hop is one switch a traced packet went through.
type Hop struct {
	Node    topology.NodeID
	InPort  int
	OutPort int
	State   flowrule.CtState
}

// Delivery is the outcome of a trace that reached a host.
type Delivery struct {
	Hops []Hop
	Host topology.Host
}

// Nodes returns the switches the packet crossed, in order.
func (d Delivery) Nodes() []topology.NodeID {
	out := make([]topology.NodeID, len(d.Hops))
	for i, h := range d.Hops {
		out[i] = h.Node
	}
	return out
}

type connKey struct {
	node   topology.NodeID
	lo, hi netip.Addr
}

func newConnKey(node topology.NodeID, a, b netip.Addr) connKey {
	if b.Less(a) {
		a, b = b, a
	}
	return connKey{node: node, lo: a, hi: b}
}

// Simulator is a RuleSink holding the rules of every switch of a topology.
// It is safe for concurrent use.
type Simulator struct {
	topo *topology.Topology

	mu     sync.Mutex
	tables map[topology.NodeID][]flowrule.FlowRule
	conns  map[connKey]bool
}

func NewSimulator(topo *topology.Topology) *Simulator {
	return &Simulator{
		topo:   topo,
		tables: make(map[topology.NodeID][]flowrule.FlowRule),
		conns:  make(map[connKey]bool),
	}
}

// Apply installs rule. A rule with the same table, priority and match as an
// installed one replaces it, as ovs-ofctl add-flow does.
func (s *Simulator) Apply(_ context.Context, rule flowrule.FlowRule) error {
	if !s.topo.HasNode(rule.Node) {
		return fmt.Errorf("apply on %s: %w", rule.Node, topology.ErrUnknownNode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := s.tables[rule.Node]
	for i, r := range rules {
		if r.Table == rule.Table && r.Priority == rule.Priority && r.Match == rule.Match {
			rules[i] = rule
			return nil
		}
	}
	s.tables[rule.Node] = append(rules, rule)
	return nil
}

// Clear removes the rules and tracked connections of node.
func (s *Simulator) Clear(_ context.Context, node topology.NodeID) error {
	if !s.topo.HasNode(node) {
		return fmt.Errorf("clear %s: %w", node, topology.ErrUnknownNode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tables, node)
	for key := range s.conns {
		if key.node == node {
			delete(s.conns, key)
		}
	}
	return nil
}

// Rules returns the rules installed on node in install order.
func (s *Simulator) Rules(node topology.NodeID) []flowrule.FlowRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]flowrule.FlowRule, len(s.tables[node]))
	copy(out, s.tables[node])
	return out
}

// ResetConnections forgets every tracked connection but keeps the rules.
func (s *Simulator) ResetConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = make(map[connKey]bool)
}

// Send traces a packet from the host with address src to dst, entering the
// network where src is attached.
func (s *Simulator) Send(src, dst netip.Addr) (Delivery, error) {
	host, err := s.topo.HostByAddress(src)
	if err != nil {
		return Delivery{}, fmt.Errorf("send from %s: %w", src, err)
	}
	return s.Trace(src, dst, host.Node, host.Port)
}

// Trace follows an IPv4 packet from src to dst that arrives on ingressPort
// of ingressNode until it leaves towards a host. Committed connections stay
// tracked for later traces.
func (s *Simulator) Trace(src, dst netip.Addr, ingressNode topology.NodeID, ingressPort int) (Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delivery Delivery
	visited := make(map[topology.NodeID]bool)
	node, inPort := ingressNode, ingressPort
	for {
		if !s.topo.HasNode(node) {
			return delivery, fmt.Errorf("trace at %s: %w", node, topology.ErrUnknownNode)
		}
		if visited[node] {
			return delivery, fmt.Errorf("trace %s -> %s revisits %s: %w", src, dst, node, ErrLoop)
		}
		visited[node] = true

		hop, err := s.process(node, inPort, src, dst)
		delivery.Hops = append(delivery.Hops, hop)
		if err != nil {
			return delivery, fmt.Errorf("trace %s -> %s at %s: %w", src, dst, node, err)
		}

		if peer, peerPort, ok := s.topo.PeerOf(node, hop.OutPort); ok {
			node, inPort = peer, peerPort
			continue
		}
		host, ok := s.topo.HostAt(node, hop.OutPort)
		if !ok {
			return delivery, fmt.Errorf("trace %s -> %s: %s port %d is not connected: %w", src, dst, node, hop.OutPort, ErrDropped)
		}
		delivery.Host = host
		log.Debugf("Trace: %s -> %s delivered to %s via %d switches", src, dst, host.ID, len(delivery.Hops))
		return delivery, nil
	}
}

// process runs one packet through the tables of node and returns the hop
// with its output port.
func (s *Simulator) process(node topology.NodeID, inPort int, src, dst netip.Addr) (Hop, error) {
	hop := Hop{Node: node, InPort: inPort, State: flowrule.Untracked}
	table := 0
	for pass := 0; pass <= maxRecirculations; pass++ {
		rule, ok := s.lookup(node, table, src, dst, hop.State)
		if !ok {
			return hop, fmt.Errorf("no rule in table %d for %s state: %w", table, hop.State, ErrDropped)
		}
		switch rule.Action.Kind {
		case flowrule.ActionRecirculate:
			hop.State = flowrule.TrackedNew
			if s.conns[newConnKey(node, src, dst)] {
				hop.State = flowrule.TrackedEstablished
			}
			table = rule.Action.Table
		case flowrule.ActionCommitOutput:
			s.conns[newConnKey(node, src, dst)] = true
			hop.OutPort = rule.Action.Port
			return hop, nil
		case flowrule.ActionOutput:
			hop.OutPort = rule.Action.Port
			return hop, nil
		default:
			return hop, fmt.Errorf("action %s: %w", rule.Action, ErrDropped)
		}
	}
	return hop, fmt.Errorf("more than %d recirculations: %w", maxRecirculations, ErrDropped)
}

// lookup returns the highest priority matching rule of table, the earliest
// installed one on a tie.
func (s *Simulator) lookup(node topology.NodeID, table int, src, dst netip.Addr, state flowrule.CtState) (flowrule.FlowRule, bool) {
	var candidates []flowrule.FlowRule
	for _, r := range s.tables[node] {
		if r.Table == table && matches(r.Match, src, dst, state) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return flowrule.FlowRule{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})
	return candidates[0], true
}

func matches(m flowrule.Match, src, dst netip.Addr, state flowrule.CtState) bool {
	if m.Protocol != flowrule.ProtocolIPv4 {
		return false
	}
	if m.Src.IsValid() && m.Src != src {
		return false
	}
	if m.Dst.IsValid() && m.Dst != dst {
		return false
	}
	if m.State == flowrule.CtAny {
		return true
	}
	if m.State == flowrule.Untracked {
		return state == flowrule.Untracked
	}
	return m.State == state
}
