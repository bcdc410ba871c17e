package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"dualpath/flowrule"
	"dualpath/topology"
)

// Recorder keeps every applied rule in memory. FailOn, when set, is asked
// before each rule and a non-nil result is returned instead of recording.
type Recorder struct {
	FailOn func(rule flowrule.FlowRule) error

	mu      sync.Mutex
	rules   []flowrule.FlowRule
	cleared []topology.NodeID
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Apply(_ context.Context, rule flowrule.FlowRule) error {
	if r.FailOn != nil {
		if err := r.FailOn(rule); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	return nil
}

func (r *Recorder) Clear(_ context.Context, node topology.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, node)
	kept := r.rules[:0]
	for _, rule := range r.rules {
		if rule.Node != node {
			kept = append(kept, rule)
		}
	}
	r.rules = kept
	return nil
}

// Rules returns a copy of the recorded rules in apply order.
func (r *Recorder) Rules() []flowrule.FlowRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]flowrule.FlowRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Cleared returns the nodes cleared so far in call order.
func (r *Recorder) Cleared() []topology.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]topology.NodeID, len(r.cleared))
	copy(out, r.cleared)
	return out
}

// Printer writes each rule as an ovs-ofctl command line instead of
// applying it.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	bridge func(topology.NodeID) string
}

func NewPrinter(out io.Writer, bridge func(topology.NodeID) string) *Printer {
	if bridge == nil {
		bridge = DefaultBridge
	}
	return &Printer{out: out, bridge: bridge}
}

func (p *Printer) Apply(_ context.Context, rule flowrule.FlowRule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.out, "ovs-ofctl add-flow %s \"%s\"\n", p.bridge(rule.Node), rule)
	return err
}

func (p *Printer) Clear(_ context.Context, node topology.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.out, "ovs-ofctl del-flows %s\n", p.bridge(node))
	return err
}
