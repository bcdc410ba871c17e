package topology

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

// squareTopology is A-B-C-D-A with a host on A and one on C.
func squareTopology(t *testing.T) *Topology {
	t.Helper()
	topo, err := NewBuilder().
		AddLink("A", "B", 1, 1).
		AddLink("B", "C", 2, 1).
		AddLink("A", "D", 2, 1).
		AddLink("D", "C", 2, 2).
		AddHost(Host{ID: "H1", Address: netip.MustParseAddr("10.0.0.1"), Attachment: Attachment{Node: "A", Port: 9}}).
		AddHost(Host{ID: "H2", Address: netip.MustParseAddr("10.0.0.2"), Attachment: Attachment{Node: "C", Port: 9}}).
		Build()
	require.NoError(t, err)
	return topo
}
