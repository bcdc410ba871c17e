package topology

import (
	"errors"
	"net/netip"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLess(t *testing.T) {
	ids := []NodeID{"S10", "S2", "A", "S1", "B3", "S02"}
	sort.Slice(ids, func(i, j int) bool { return Less(ids[i], ids[j]) })
	assert.Equal(t, []NodeID{"A", "B3", "S1", "S02", "S2", "S10"}, ids)

	first, second := Canonical("S8", "S4")
	assert.Equal(t, NodeID("S4"), first)
	assert.Equal(t, NodeID("S8"), second)
}

func TestNeighborsOf(t *testing.T) {
	topo := squareTopology(t)

	neighbors, err := topo.NeighborsOf("A")
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"B", "D"}, neighbors)

	_, err = topo.NeighborsOf("Z")
	assert.ErrorIs(t, err, ErrUnknownNode)

	assert.Equal(t, 4, topo.NodeCount())
	assert.Equal(t, 4, topo.LinkCount())
}

func TestWithoutDoesNotMutate(t *testing.T) {
	topo := squareTopology(t)

	view := topo.Without("B")
	assert.False(t, view.HasNode("B"))
	neighbors, err := view.NeighborsOf("A")
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"D"}, neighbors)
	_, _, err = view.PortsBetween("A", "B")
	assert.ErrorIs(t, err, ErrLinkNotFound)

	neighbors, err = topo.NeighborsOf("A")
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"B", "D"}, neighbors)
	assert.True(t, topo.HasNode("B"))
}

func TestAttachmentOf(t *testing.T) {
	topo := squareTopology(t)

	a, err := topo.AttachmentOf("H2")
	require.NoError(t, err)
	assert.Equal(t, Attachment{Node: "C", Port: 9}, a)

	_, err = topo.AttachmentOf("H42")
	assert.ErrorIs(t, err, ErrUnknownHost)

	h, err := topo.HostByAddress(netip.MustParseAddr("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, "H1", h.ID)

	_, err = topo.HostByAddress(netip.MustParseAddr("10.9.9.9"))
	assert.ErrorIs(t, err, ErrUnknownHost)

	// a host behind a removed switch is not reachable in the view
	_, err = topo.Without("C").AttachmentOf("H2")
	assert.ErrorIs(t, err, ErrUnknownHost)
}

func TestBuildRejectsInvalidTopology(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")

	testCases := []struct {
		name  string
		build func(b *Builder)
	}{
		{"self loop", func(b *Builder) { b.AddLink("S1", "S1", 1, 2) }},
		{"duplicate edge", func(b *Builder) { b.AddLink("S1", "S2", 1, 1).AddLink("S2", "S1", 2, 2) }},
		{"port reuse", func(b *Builder) { b.AddLink("S1", "S2", 1, 1).AddLink("S1", "S3", 1, 1) }},
		{"zero port", func(b *Builder) { b.AddLink("S1", "S2", 0, 1) }},
		{"ports without edge", func(b *Builder) { b.AddNode("S1", "S2").SetPorts("S1", "S2", 1, 1) }},
		{"host on unknown switch", func(b *Builder) {
			b.AddNode("S1").AddHost(Host{ID: "H1", Address: addr, Attachment: Attachment{Node: "S9", Port: 1}})
		}},
		{"host on link port", func(b *Builder) {
			b.AddLink("S1", "S2", 1, 1).AddHost(Host{ID: "H1", Address: addr, Attachment: Attachment{Node: "S1", Port: 1}})
		}},
		{"duplicate address", func(b *Builder) {
			b.AddNode("S1").
				AddHost(Host{ID: "H1", Address: addr, Attachment: Attachment{Node: "S1", Port: 1}}).
				AddHost(Host{ID: "H2", Address: addr, Attachment: Attachment{Node: "S1", Port: 2}})
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder()
			tc.build(b)
			topo, err := b.Build()
			assert.Nil(t, topo)
			assert.True(t, errors.Is(err, ErrInvalidTopology), "got %v", err)
		})
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	assert.False(t, m.IsInitialized())
	_, err := m.Topology()
	assert.ErrorIs(t, err, ErrNotInitialized)

	topo := squareTopology(t)
	m.SetTopology(topo)
	assert.True(t, m.IsInitialized())
	got, err := m.Topology()
	require.NoError(t, err)
	assert.Same(t, topo, got)
}

func TestHostAt(t *testing.T) {
	topo := squareTopology(t)

	h, ok := topo.HostAt("C", 9)
	require.True(t, ok)
	assert.Equal(t, "H2", h.ID)

	_, ok = topo.HostAt("C", 1)
	assert.False(t, ok)

	// a removed switch has no hosts
	_, ok = topo.Without("C").HostAt("C", 9)
	assert.False(t, ok)

	hosts := topo.Hosts()
	require.Len(t, hosts, 2)
	assert.Equal(t, "H1", hosts[0].ID)
}
