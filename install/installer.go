// Package install turns a host pair into installed rules: it computes the
// routing, synthesizes the rules of every path with that path's tier and
// hands them to a sink in order.
package install

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"dualpath/flowrule"
	"dualpath/routing"
	"dualpath/sink"
	"dualpath/topology"
)

// ErrNoTier is returned when a routing has more paths than configured tiers.
var ErrNoTier = errors.New("no tier for path rank")

type ARPConfig struct {
	Enabled  bool `toml:"enabled"`
	Priority int  `toml:"priority"`
}

func DefaultARPConfig() ARPConfig {
	return ARPConfig{Enabled: true, Priority: 200}
}

// PathRules are the rules of one path of a plan.
type PathRules struct {
	Path  routing.Path
	Tier  flowrule.Tier
	Rules []flowrule.FlowRule
}

// Plan is everything Install is going to apply for one request.
type Plan struct {
	Request  routing.Request
	Routing  routing.Routing
	Topology *topology.Topology
	Paths    []PathRules
	ARP      []flowrule.FlowRule
}

// Rules returns the rules of every path by rank followed by the ARP rules.
func (p Plan) Rules() []flowrule.FlowRule {
	var out []flowrule.FlowRule
	for _, pr := range p.Paths {
		out = append(out, pr.Rules...)
	}
	return append(out, p.ARP...)
}

// Result is the outcome of Install. Report says which rules were applied,
// also when Install failed.
type Result struct {
	Plan    Plan
	Report  sink.Report
	Cleared bool
}

func (r Result) Complete() bool {
	return r.Report.Total > 0 && r.Report.Complete()
}

// Installer computes and installs the rules of host pairs. Path i of a
// routing uses Tiers[i].
type Installer struct {
	Router     *routing.Router
	Sink       sink.RuleSink
	Tiers      []flowrule.Tier
	ARP        ARPConfig
	ClearFirst bool
}

// NewInstaller returns an Installer with the default tiers and ARP rules.
func NewInstaller(router *routing.Router, s sink.RuleSink) *Installer {
	return &Installer{
		Router: router,
		Sink:   s,
		Tiers:  flowrule.DefaultTiers(),
		ARP:    DefaultARPConfig(),
	}
}

func (i *Installer) tiers() []flowrule.Tier {
	if len(i.Tiers) == 0 {
		return flowrule.DefaultTiers()
	}
	return i.Tiers
}

// Plan computes the routing of req and synthesizes its rules without
// touching the sink.
func (i *Installer) Plan(ctx context.Context, req routing.Request) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	topo, err := i.Router.Topology()
	if err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", req, err)
	}
	r, err := routing.ComputeRouting(topo, req.SourceHost, req.TargetHost)
	if err != nil {
		return Plan{}, fmt.Errorf("plan %s: %w", req, err)
	}

	plan := Plan{Request: req, Routing: r, Topology: topo}
	tiers := i.tiers()
	for rank, path := range r.Paths.Paths() {
		if rank >= len(tiers) {
			return Plan{}, fmt.Errorf("plan %s: path %d of %d: %w", req, rank+1, len(r.Paths.Paths()), ErrNoTier)
		}
		tier := tiers[rank]
		rules, err := flowrule.Synthesize(topo, path, r.Source.Address, r.Target.Address, tier.Priority, tier.Table)
		if err != nil {
			return Plan{}, fmt.Errorf("plan %s: %w", req, err)
		}
		plan.Paths = append(plan.Paths, PathRules{Path: path, Tier: tier, Rules: rules})
	}

	if i.ARP.Enabled {
		for _, node := range topo.Nodes() {
			plan.ARP = append(plan.ARP, flowrule.ARPFlood(node, i.ARP.Priority))
		}
	}
	log.Debugf("Plan: %s, %d paths, %d rules", req, len(plan.Paths), len(plan.Rules()))
	return plan, nil
}

// Install plans req and applies the plan, clearing every switch first when
// ClearFirst is set.
func (i *Installer) Install(ctx context.Context, req routing.Request) (Result, error) {
	plan, err := i.Plan(ctx, req)
	if err != nil {
		return Result{}, err
	}
	result := Result{Plan: plan}

	if i.ClearFirst {
		ok, err := sink.ClearAll(ctx, i.Sink, plan.Topology.Nodes())
		if err != nil {
			return result, fmt.Errorf("install %s: %w", req, err)
		}
		if !ok {
			log.Warnf("Install: sink %T cannot clear flows, installing on top of existing rules", i.Sink)
		}
		result.Cleared = ok
	}

	report, err := sink.Install(ctx, i.Sink, plan.Rules())
	result.Report = report
	if err != nil {
		return result, fmt.Errorf("install %s: %w", req, err)
	}
	log.Infof("Install: %s, applied %d rules over %d paths", req, report.Total, len(plan.Paths))
	return result, nil
}
