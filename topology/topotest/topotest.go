// Package topotest provides fixed topologies for tests.
package topotest

import (
	"fmt"
	"net/netip"

	"dualpath/topology"
)

// Original returns the eight switch, nine host lab topology.
func Original() *topology.Topology {
	b := topology.NewBuilder().
		AddLink("S1", "S2", 3, 1).
		AddLink("S1", "S3", 4, 2).
		AddLink("S1", "S6", 2, 3).
		AddLink("S2", "S3", 5, 3).
		AddLink("S2", "S4", 4, 2).
		AddLink("S2", "S5", 3, 1).
		AddLink("S2", "S7", 2, 4).
		AddLink("S3", "S4", 4, 1).
		AddLink("S4", "S5", 3, 6).
		AddLink("S4", "S8", 4, 1).
		AddLink("S5", "S7", 2, 3).
		AddLink("S5", "S8", 5, 2).
		AddLink("S6", "S7", 2, 1)

	attachments := []topology.Attachment{
		{Node: "S1", Port: 1},
		{Node: "S3", Port: 1},
		{Node: "S7", Port: 2},
		{Node: "S5", Port: 3},
		{Node: "S5", Port: 4},
		{Node: "S8", Port: 3},
		{Node: "S8", Port: 4},
		{Node: "S6", Port: 1},
		{Node: "S4", Port: 5},
	}
	for i, a := range attachments {
		b.AddHost(topology.Host{
			ID:         fmt.Sprintf("H%d", i+1),
			Address:    netip.MustParseAddr(fmt.Sprintf("10.0.0.%d", i+1)),
			Attachment: a,
		})
	}
	return mustBuild(b)
}

// Square returns A-B-C-D-A with host HA (10.1.0.1) on A port 10, HB on B,
// HC on C and HD on D, each on port 10.
func Square() *topology.Topology {
	b := topology.NewBuilder().
		AddLink("A", "B", 1, 1).
		AddLink("B", "C", 2, 1).
		AddLink("A", "D", 2, 1).
		AddLink("D", "C", 2, 2)
	for i, n := range []topology.NodeID{"A", "B", "C", "D"} {
		b.AddHost(topology.Host{
			ID:         "H" + string(n),
			Address:    netip.MustParseAddr(fmt.Sprintf("10.1.0.%d", i+1)),
			Attachment: topology.Attachment{Node: n, Port: 10},
		})
	}
	return mustBuild(b)
}

// Line returns S1-S2-...-Sn with host Hi on port 10 of Si.
func Line(n int) *topology.Topology {
	b := topology.NewBuilder()
	for i := 1; i <= n; i++ {
		node := topology.NodeID(fmt.Sprintf("S%d", i))
		b.AddNode(node)
		if i > 1 {
			b.AddLink(topology.NodeID(fmt.Sprintf("S%d", i-1)), node, 2, 1)
		}
		b.AddHost(topology.Host{
			ID:         fmt.Sprintf("H%d", i),
			Address:    netip.MustParseAddr(fmt.Sprintf("10.2.0.%d", i)),
			Attachment: topology.Attachment{Node: node, Port: 10},
		})
	}
	return mustBuild(b)
}

func mustBuild(b *topology.Builder) *topology.Topology {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
