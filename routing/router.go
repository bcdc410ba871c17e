package routing

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"dualpath/topology"
)

// Request names the two hosts to connect.
type Request struct {
	SourceHost string `toml:"source" json:"source"`
	TargetHost string `toml:"target" json:"target"`
}

func (r Request) String() string {
	return r.SourceHost + "->" + r.TargetHost
}

// Routing is a resolved request together with its paths.
type Routing struct {
	Source topology.Host
	Target topology.Host
	Paths  PathPair
}

// Router resolves host pairs against the topology held by a Manager.
type Router struct {
	manager *topology.Manager
}

func NewRouter(manager *topology.Manager) *Router {
	return &Router{manager: manager}
}

// Topology returns the snapshot the router currently works on.
func (r *Router) Topology() (*topology.Topology, error) {
	return r.manager.Topology()
}

// ComputeRouting resolves both hosts to their attachment switches and
// computes the primary and backup paths between them.
func (r *Router) ComputeRouting(sourceHost, targetHost string) (Routing, error) {
	topo, err := r.manager.Topology()
	if err != nil {
		return Routing{}, err
	}
	return ComputeRouting(topo, sourceHost, targetHost)
}

// ComputeRouting is Router.ComputeRouting on an explicit topology snapshot.
func ComputeRouting(topo *topology.Topology, sourceHost, targetHost string) (Routing, error) {
	source, err := topo.Host(sourceHost)
	if err != nil {
		return Routing{}, fmt.Errorf("compute routing: source: %w", err)
	}
	target, err := topo.Host(targetHost)
	if err != nil {
		return Routing{}, fmt.Errorf("compute routing: target: %w", err)
	}

	paths, err := FindPrimaryAndBackup(topo, source.Node, target.Node)
	if err != nil {
		return Routing{}, fmt.Errorf("compute routing %s -> %s: %w", sourceHost, targetHost, err)
	}

	log.Infof("ComputeRouting: %s(%s@%s) -> %s(%s@%s), primary=%v, backup=%v",
		source.ID, source.Address, source.Node, target.ID, target.Address, target.Node,
		paths.Primary, paths.Backup)

	return Routing{Source: source, Target: target, Paths: paths}, nil
}
