package topology

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
)

// Attachment is the switch port a host is plugged into.
type Attachment struct {
	Node NodeID
	Port int
}

// Host is an end host with its address and attachment point.
type Host struct {
	ID      string
	Address netip.Addr
	Attachment
}

// Ports holds the two port numbers of a link in canonical pair order.
type Ports struct {
	First  int
	Second int
}

// Topology is an immutable undirected switch graph with its port map and
// host attachment table. It is safe for concurrent use by any number of
// readers; derived views are produced with Without and never alias the
// receiver's adjacency.
type Topology struct {
	nodes []NodeID
	index map[NodeID]int
	adj   map[NodeID][]NodeID
	ports map[pairKey]Ports
	hosts map[string]Host
	addrs map[netip.Addr]string
}

// Nodes returns every node in canonical order.
func (t *Topology) Nodes() []NodeID {
	out := make([]NodeID, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// NodeCount returns the number of nodes.
func (t *Topology) NodeCount() int {
	return len(t.nodes)
}

// LinkCount returns the number of undirected edges.
func (t *Topology) LinkCount() int {
	count := 0
	for _, neighbors := range t.adj {
		count += len(neighbors)
	}
	return count / 2
}

// HasNode reports whether id is part of the topology.
func (t *Topology) HasNode(id NodeID) bool {
	_, ok := t.index[id]
	return ok
}

// IndexOf returns the canonical index of id.
func (t *Topology) IndexOf(id NodeID) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

// NeighborsOf returns the neighbors of node in canonical order.
func (t *Topology) NeighborsOf(node NodeID) ([]NodeID, error) {
	neighbors, ok := t.adj[node]
	if !ok {
		return nil, fmt.Errorf("neighbors of %s: %w", node, ErrUnknownNode)
	}
	out := make([]NodeID, len(neighbors))
	copy(out, neighbors)
	return out, nil
}

// Adjacent reports whether a and b share an edge.
func (t *Topology) Adjacent(a, b NodeID) bool {
	for _, n := range t.adj[a] {
		if n == b {
			return true
		}
	}
	return false
}

// Without returns a view of the topology with the given nodes and all of
// their edges removed. Host and port tables are shared read-only; lookups
// touching a removed node fail as if the node never existed.
func (t *Topology) Without(removed ...NodeID) *Topology {
	drop := make(map[NodeID]bool, len(removed))
	for _, n := range removed {
		drop[n] = true
	}

	view := &Topology{
		nodes: make([]NodeID, 0, len(t.nodes)),
		index: make(map[NodeID]int, len(t.nodes)),
		adj:   make(map[NodeID][]NodeID, len(t.nodes)),
		ports: t.ports,
		hosts: t.hosts,
		addrs: t.addrs,
	}
	for _, n := range t.nodes {
		if drop[n] {
			continue
		}
		view.index[n] = len(view.nodes)
		view.nodes = append(view.nodes, n)

		neighbors := make([]NodeID, 0, len(t.adj[n]))
		for _, m := range t.adj[n] {
			if !drop[m] {
				neighbors = append(neighbors, m)
			}
		}
		view.adj[n] = neighbors
	}
	return view
}

// Builder collects nodes, edges, ports and hosts and validates them into a
// Topology. Nodes named by edges are added implicitly.
type Builder struct {
	nodes map[NodeID]bool
	edges map[pairKey]bool
	ports map[pairKey]Ports
	hosts []Host
	errs  []error
}

func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[NodeID]bool),
		edges: make(map[pairKey]bool),
		ports: make(map[pairKey]Ports),
	}
}

// AddNode declares nodes, including ones without any edge.
func (b *Builder) AddNode(ids ...NodeID) *Builder {
	for _, id := range ids {
		if id == "" {
			b.errs = append(b.errs, errors.New("empty node id"))
			continue
		}
		b.nodes[id] = true
	}
	return b
}

// AddEdge adds an undirected edge without a port mapping.
func (b *Builder) AddEdge(x, y NodeID) *Builder {
	if x == y {
		b.errs = append(b.errs, fmt.Errorf("self loop on %s", x))
		return b
	}
	key := keyOf(x, y)
	if b.edges[key] {
		b.errs = append(b.errs, fmt.Errorf("duplicate edge %s", key))
		return b
	}
	b.AddNode(x, y)
	b.edges[key] = true
	return b
}

// AddLink adds an edge together with the port on each end.
func (b *Builder) AddLink(x, y NodeID, portX, portY int) *Builder {
	if x == y || b.edges[keyOf(x, y)] {
		return b.AddEdge(x, y)
	}
	b.AddEdge(x, y)
	return b.SetPorts(x, y, portX, portY)
}

// SetPorts records the port mapping of an edge that was added with AddEdge.
func (b *Builder) SetPorts(x, y NodeID, portX, portY int) *Builder {
	key := keyOf(x, y)
	if !b.edges[key] {
		b.errs = append(b.errs, fmt.Errorf("ports for %s without an edge", key))
		return b
	}
	if portX <= 0 || portY <= 0 {
		b.errs = append(b.errs, fmt.Errorf("link %s: ports must be positive, got %d/%d", key, portX, portY))
		return b
	}
	if key[0] == x {
		b.ports[key] = Ports{First: portX, Second: portY}
	} else {
		b.ports[key] = Ports{First: portY, Second: portX}
	}
	return b
}

// AddHost adds a host attachment.
func (b *Builder) AddHost(h Host) *Builder {
	b.hosts = append(b.hosts, h)
	return b
}

// Build validates everything added so far. All problems are reported
// together, each wrapped in ErrInvalidTopology.
func (b *Builder) Build() (*Topology, error) {
	errs := append([]error(nil), b.errs...)

	t := &Topology{
		nodes: make([]NodeID, 0, len(b.nodes)),
		index: make(map[NodeID]int, len(b.nodes)),
		adj:   make(map[NodeID][]NodeID, len(b.nodes)),
		ports: make(map[pairKey]Ports, len(b.ports)),
		hosts: make(map[string]Host, len(b.hosts)),
		addrs: make(map[netip.Addr]string, len(b.hosts)),
	}

	for n := range b.nodes {
		t.nodes = append(t.nodes, n)
	}
	sort.Slice(t.nodes, func(i, j int) bool { return Less(t.nodes[i], t.nodes[j]) })
	for i, n := range t.nodes {
		t.index[n] = i
		t.adj[n] = []NodeID{}
	}

	for key := range b.edges {
		t.adj[key[0]] = append(t.adj[key[0]], key[1])
		t.adj[key[1]] = append(t.adj[key[1]], key[0])
	}
	for n := range t.adj {
		neighbors := t.adj[n]
		sort.Slice(neighbors, func(i, j int) bool { return Less(neighbors[i], neighbors[j]) })
	}

	// every switch port may carry one link or one host
	used := make(map[Attachment]string)
	claim := func(a Attachment, owner string) {
		if prev, ok := used[a]; ok {
			errs = append(errs, fmt.Errorf("port %d on %s used by both %s and %s", a.Port, a.Node, prev, owner))
			return
		}
		used[a] = owner
	}
	keys := make([]pairKey, 0, len(b.ports))
	for key := range b.ports {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return Less(keys[i][0], keys[j][0])
		}
		return Less(keys[i][1], keys[j][1])
	})
	for _, key := range keys {
		p := b.ports[key]
		t.ports[key] = p
		claim(Attachment{Node: key[0], Port: p.First}, "link "+key.String())
		claim(Attachment{Node: key[1], Port: p.Second}, "link "+key.String())
	}

	for _, h := range b.hosts {
		switch {
		case h.ID == "":
			errs = append(errs, errors.New("host with empty id"))
			continue
		case !h.Address.IsValid():
			errs = append(errs, fmt.Errorf("host %s: invalid address", h.ID))
			continue
		case !b.nodes[h.Node]:
			errs = append(errs, fmt.Errorf("host %s attached to unknown switch %s", h.ID, h.Node))
			continue
		case h.Port <= 0:
			errs = append(errs, fmt.Errorf("host %s: port must be positive, got %d", h.ID, h.Port))
			continue
		}
		if _, dup := t.hosts[h.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate host %s", h.ID))
			continue
		}
		if other, dup := t.addrs[h.Address]; dup {
			errs = append(errs, fmt.Errorf("host %s reuses address %s of %s", h.ID, h.Address, other))
			continue
		}
		claim(h.Attachment, "host "+h.ID)
		t.hosts[h.ID] = h
		t.addrs[h.Address] = h.ID
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTopology, errors.Join(errs...))
	}
	return t, nil
}
