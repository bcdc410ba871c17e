package routing

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"dualpath/topology"
)

// ErrNoPathExists is returned when source and target are disconnected.
var ErrNoPathExists = errors.New("no path exists")

// FindPrimaryAndBackup computes the shortest path between source and target
// and a backup that avoids every interior node of it. The backup is dropped
// when removing those nodes disconnects the endpoints or when it comes out
// identical to the primary, which happens for adjacent switches.
// The shared topology is never modified; the backup search runs on a view.
func FindPrimaryAndBackup(topo *topology.Topology, source, target topology.NodeID) (PathPair, error) {
	for _, n := range []topology.NodeID{source, target} {
		if !topo.HasNode(n) {
			return PathPair{}, fmt.Errorf("find paths %s -> %s: %s: %w", source, target, n, topology.ErrUnknownNode)
		}
	}

	if source == target {
		return PathPair{Primary: Path{source}}, nil
	}

	primary := shortestNodePath(topo, source, target)
	if primary == nil {
		return PathPair{}, fmt.Errorf("find paths %s -> %s: %w", source, target, ErrNoPathExists)
	}

	backup := shortestNodePath(topo.Without(primary.Interior()...), source, target)
	switch {
	case backup == nil:
		log.Debugf("FindPrimaryAndBackup: %s -> %s, primary=%v, no disjoint backup", source, target, primary)
		return PathPair{Primary: primary}, nil
	case backup.Equal(primary):
		log.Debugf("FindPrimaryAndBackup: %s -> %s, primary=%v, backup collapsed into primary", source, target, primary)
		return PathPair{Primary: primary}, nil
	}

	log.Debugf("FindPrimaryAndBackup: %s -> %s, primary=%v, backup=%v", source, target, primary, backup)
	return PathPair{Primary: primary, Backup: backup}, nil
}
