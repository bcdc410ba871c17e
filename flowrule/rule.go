package flowrule

import (
	"fmt"
	"net/netip"
	"strings"

	"dualpath/topology"
)

// CtState is the connection tracking state a rule matches on.
type CtState uint8

const (
	// CtAny leaves the tracking state unmatched.
	CtAny CtState = iota
	// Untracked packets have not been through the conntrack module yet.
	Untracked
	// TrackedNew is the first packet of a connection after tracking.
	TrackedNew
	// TrackedEstablished is any packet of a committed connection.
	TrackedEstablished
)

func (s CtState) String() string {
	switch s {
	case Untracked:
		return "-trk"
	case TrackedNew:
		return "+trk+new"
	case TrackedEstablished:
		return "+trk+est"
	}
	return ""
}

// Protocol is the ethertype a rule matches on.
type Protocol uint16

const (
	ProtocolIPv4 Protocol = 0x0800
	ProtocolARP  Protocol = 0x0806
)

// Match is the predicate of a rule. Zero addresses are wildcards.
type Match struct {
	Protocol Protocol   `json:"protocol"`
	Src      netip.Addr `json:"src,omitempty"`
	Dst      netip.Addr `json:"dst,omitempty"`
	State    CtState    `json:"ct_state,omitempty"`
}

// ActionKind selects what a matching rule does with a packet.
type ActionKind uint8

const (
	// ActionRecirculate sends the packet through conntrack and resubmits it
	// to Action.Table.
	ActionRecirculate ActionKind = iota + 1
	// ActionCommitOutput commits the connection and outputs to Action.Port.
	ActionCommitOutput
	// ActionOutput outputs to Action.Port.
	ActionOutput
	// ActionFlood floods out of every port but the ingress one.
	ActionFlood
)

type Action struct {
	Kind  ActionKind `json:"kind"`
	Table int        `json:"table,omitempty"`
	Port  int        `json:"port,omitempty"`
}

func (a Action) String() string {
	switch a.Kind {
	case ActionRecirculate:
		return fmt.Sprintf("ct(table=%d)", a.Table)
	case ActionCommitOutput:
		return fmt.Sprintf("ct(commit),output:%d", a.Port)
	case ActionOutput:
		return fmt.Sprintf("output:%d", a.Port)
	case ActionFlood:
		return "flood"
	}
	return "drop"
}

// FlowRule is one rule to install on one switch.
type FlowRule struct {
	Node     topology.NodeID `json:"node"`
	Table    int             `json:"table"`
	Priority int             `json:"priority"`
	Match    Match           `json:"match"`
	Action   Action          `json:"action"`
}

// String renders the rule in ovs-ofctl add-flow syntax, without the bridge.
func (r FlowRule) String() string {
	fields := []string{
		fmt.Sprintf("table=%d", r.Table),
		fmt.Sprintf("priority=%d", r.Priority),
		fmt.Sprintf("dl_type=0x%04x", uint16(r.Match.Protocol)),
	}
	if r.Match.Src.IsValid() {
		fields = append(fields, "nw_src="+r.Match.Src.String())
	}
	if r.Match.Dst.IsValid() {
		fields = append(fields, "nw_dst="+r.Match.Dst.String())
	}
	if r.Match.State != CtAny {
		fields = append(fields, "ct_state="+r.Match.State.String())
	}
	fields = append(fields, "actions="+r.Action.String())
	return strings.Join(fields, ",")
}

// Tier is the priority and state table assigned to one path rank.
type Tier struct {
	Priority int `toml:"priority"`
	Table    int `toml:"table"`
}

// DefaultTiers gives the primary path priority 200 and state table 0 and
// the backup priority 100 and state table 1.
func DefaultTiers() []Tier {
	return []Tier{
		{Priority: 200, Table: 0},
		{Priority: 100, Table: 1},
	}
}

// ARPFlood is the rule letting ARP through a switch.
func ARPFlood(node topology.NodeID, priority int) FlowRule {
	return FlowRule{
		Node:     node,
		Priority: priority,
		Match:    Match{Protocol: ProtocolARP},
		Action:   Action{Kind: ActionFlood},
	}
}
