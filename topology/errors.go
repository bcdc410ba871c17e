package topology

import "errors"

var (
	// ErrUnknownHost is returned when a host id or address has no attachment point.
	ErrUnknownHost = errors.New("unknown host")
	// ErrUnknownNode is returned for a node that is not part of the topology.
	ErrUnknownNode = errors.New("unknown node")
	// ErrLinkNotFound means two nodes have no configured port mapping. For an
	// edge that does exist in the graph this is a configuration integrity fault.
	ErrLinkNotFound = errors.New("link not found")
	// ErrInvalidTopology wraps every problem found while building a topology.
	ErrInvalidTopology = errors.New("invalid topology")
	// ErrNotInitialized is returned by a Manager that has no topology yet.
	ErrNotInitialized = errors.New("topology not yet initialized")
)
