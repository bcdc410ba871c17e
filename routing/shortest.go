package routing

import (
	"dualpath/topology"
)

// network is the hop matrix a search runs over. Indices follow the
// canonical node order of the topology it was built from; links[i][j] is 1
// for an edge, 0 on the diagonal and -1 when there is no edge.
type network struct {
	nodes []topology.NodeID
	links [][]int
}

func newNetwork(t *topology.Topology) network {
	nodes := t.Nodes()
	net := network{
		nodes: nodes,
		links: make([][]int, len(nodes)),
	}
	for i := range net.links {
		net.links[i] = make([]int, len(nodes))
		for j := range net.links[i] {
			net.links[i][j] = -1
		}
		net.links[i][i] = 0
	}
	for i, a := range nodes {
		neighbors, _ := t.NeighborsOf(a)
		for _, b := range neighbors {
			j, _ := t.IndexOf(b)
			net.links[i][j] = 1
		}
	}
	return net
}

// shortestPath runs Dijkstra over the hop matrix and returns the node
// indices from source to target, or nil when target is unreachable.
//
// Ties are resolved deterministically: among unvisited nodes the one with
// the lowest index is settled first, and a node keeps the first settled
// neighbor that reached it as its predecessor. So every node on the result
// is preceded by its lowest-indexed neighbor one hop closer to the source.
func shortestPath(net network, source, target int) []int {
	n := len(net.nodes)
	if source == target {
		return []int{source}
	}

	var latencies []int = make([]int, n) // hops from source, -1 means not reached yet
	for i := 0; i < n; i++ {
		latencies[i] = net.links[source][i]
	}

	var visited []bool = make([]bool, n)
	visited[source] = true

	var predecessors []int = make([]int, n)
	for i := 0; i < n; i++ {
		predecessors[i] = source
	}
	predecessors[source] = -1

	for count := 0; count < n-1; count++ {
		minNode := -1
		for i := 0; i < n; i++ {
			if visited[i] || latencies[i] < 0 {
				continue
			}
			if minNode < 0 || latencies[i] < latencies[minNode] {
				minNode = i
			}
		}
		if minNode == -1 { // all of rest nodes are unreachable
			break
		}
		visited[minNode] = true
		if minNode == target {
			break
		}

		for i := 0; i < n; i++ {
			if visited[i] || net.links[minNode][i] < 0 {
				continue
			}
			if latencies[i] < 0 || latencies[i] > latencies[minNode]+net.links[minNode][i] {
				latencies[i] = latencies[minNode] + net.links[minNode][i]
				predecessors[i] = minNode
			}
		}
	}

	if !visited[target] {
		return nil
	}

	var reversed []int
	for node := target; node != -1; node = predecessors[node] {
		reversed = append(reversed, node)
	}
	nodes := make([]int, len(reversed))
	for i := range reversed {
		nodes[i] = reversed[len(reversed)-1-i]
	}
	return nodes
}

// shortestNodePath is shortestPath on node identifiers.
func shortestNodePath(t *topology.Topology, source, target topology.NodeID) Path {
	net := newNetwork(t)
	s, _ := t.IndexOf(source)
	d, _ := t.IndexOf(target)

	indices := shortestPath(net, s, d)
	if indices == nil {
		return nil
	}
	path := make(Path, len(indices))
	for i, idx := range indices {
		path[i] = net.nodes[idx]
	}
	return path
}
