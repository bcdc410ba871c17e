package topology

import "fmt"

// PortsBetween resolves the link between a and b. The first port returned
// belongs to a and the second to b whatever the canonical order of the pair,
// so swapping the arguments swaps the result.
func (t *Topology) PortsBetween(a, b NodeID) (portOnA, portOnB int, err error) {
	if !t.HasNode(a) || !t.HasNode(b) || !t.Adjacent(a, b) {
		return 0, 0, fmt.Errorf("ports between %s and %s: no edge: %w", a, b, ErrLinkNotFound)
	}
	key := keyOf(a, b)
	p, ok := t.ports[key]
	if !ok {
		return 0, 0, fmt.Errorf("ports between %s and %s: edge has no port mapping: %w", a, b, ErrLinkNotFound)
	}
	if key[0] == a {
		return p.First, p.Second, nil
	}
	return p.Second, p.First, nil
}

// Link is one configured edge with its ports in canonical order.
type Link struct {
	A, B         NodeID
	PortA, PortB int
}

// Links returns every edge that has a port mapping, sorted canonically.
func (t *Topology) Links() []Link {
	links := make([]Link, 0, len(t.ports))
	for _, a := range t.nodes {
		for _, b := range t.adj[a] {
			if !Less(a, b) {
				continue
			}
			if p, ok := t.ports[keyOf(a, b)]; ok {
				links = append(links, Link{A: a, B: b, PortA: p.First, PortB: p.Second})
			}
		}
	}
	return links
}

// PeerOf returns the node and port at the far end of the link leaving node
// through port. ok is false when port does not carry a link in this view.
func (t *Topology) PeerOf(node NodeID, port int) (peer NodeID, peerPort int, ok bool) {
	for _, m := range t.adj[node] {
		mine, theirs, err := t.PortsBetween(node, m)
		if err == nil && mine == port {
			return m, theirs, true
		}
	}
	return "", 0, false
}
