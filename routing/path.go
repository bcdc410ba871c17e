package routing

import (
	"strings"

	"dualpath/topology"
)

// Path is an ordered list of switches from the source attachment node to
// the target attachment node. A single element means both hosts share a
// switch.
type Path []topology.NodeID

// Hops returns the number of links on the path.
func (p Path) Hops() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// Interior returns every node except the two endpoints.
func (p Path) Interior() []topology.NodeID {
	if len(p) <= 2 {
		return nil
	}
	out := make([]topology.NodeID, len(p)-2)
	copy(out, p[1:len(p)-1])
	return out
}

func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, n := range p {
		parts[i] = string(n)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// PathPair is the result of a path computation: a primary path and, when
// one exists and differs from the primary, a backup.
type PathPair struct {
	Primary Path
	Backup  Path
}

// HasBackup reports whether a distinct backup path was found.
func (pp PathPair) HasBackup() bool {
	return len(pp.Backup) > 0
}

// Paths returns the primary followed by the backup, if any.
func (pp PathPair) Paths() []Path {
	if pp.HasBackup() {
		return []Path{pp.Primary, pp.Backup}
	}
	return []Path{pp.Primary}
}
