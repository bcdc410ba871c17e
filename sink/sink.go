// Package sink applies synthesized flow rules to switches.
//
// A RuleSink is handed rules one at a time in the order they were
// produced. Install stops at the first failure and reports exactly which
// rules made it, so a caller can tell a partial installation from a
// complete one and decide whether to retry, skip or abort.
package sink

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"dualpath/flowrule"
	"dualpath/topology"
)

// ErrRuleApply is matched by every error returned from Install when a sink
// rejected a rule.
var ErrRuleApply = errors.New("rule apply failure")

// RuleSink applies one rule to the switch named by rule.Node.
type RuleSink interface {
	Apply(ctx context.Context, rule flowrule.FlowRule) error
}

// Clearer is implemented by sinks able to remove every rule of a switch.
type Clearer interface {
	Clear(ctx context.Context, node topology.NodeID) error
}

// ApplyError describes the rule a sink failed to apply.
type ApplyError struct {
	Index int
	Rule  flowrule.FlowRule
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply rule #%d on %s (%s): %v", e.Index, e.Rule.Node, e.Rule, e.Err)
}

func (e *ApplyError) Unwrap() []error {
	return []error{ErrRuleApply, e.Err}
}

// Report lists the rules that were applied out of Total.
type Report struct {
	Applied []flowrule.FlowRule
	Total   int
}

// Complete reports whether every rule was applied.
func (r Report) Complete() bool {
	return len(r.Applied) == r.Total
}

// Merge appends other to r.
func (r *Report) Merge(other Report) {
	r.Applied = append(r.Applied, other.Applied...)
	r.Total += other.Total
}

// Install applies rules in order and stops at the first failure, which is
// returned as an *ApplyError. The report is valid in both cases.
func Install(ctx context.Context, s RuleSink, rules []flowrule.FlowRule) (Report, error) {
	report := Report{
		Applied: make([]flowrule.FlowRule, 0, len(rules)),
		Total:   len(rules),
	}
	for i, rule := range rules {
		err := ctx.Err()
		if err == nil {
			err = s.Apply(ctx, rule)
		}
		if err != nil {
			applyErr := &ApplyError{Index: i, Rule: rule, Err: err}
			log.Errorf("Install: %v, applied %d of %d rules", applyErr, len(report.Applied), report.Total)
			return report, applyErr
		}
		report.Applied = append(report.Applied, rule)
	}
	log.Debugf("Install: applied %d rules", report.Total)
	return report, nil
}

// ClearAll clears every node when s supports it. It returns false when s
// is not a Clearer.
func ClearAll(ctx context.Context, s RuleSink, nodes []topology.NodeID) (bool, error) {
	c, ok := s.(Clearer)
	if !ok {
		return false, nil
	}
	for _, n := range nodes {
		if err := c.Clear(ctx, n); err != nil {
			return true, fmt.Errorf("clear %s: %w", n, err)
		}
	}
	return true, nil
}
