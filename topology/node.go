package topology

import (
	"strconv"
	"strings"
)

// NodeID identifies a switch in the topology, e.g. "S1".
type NodeID string

// Less reports whether a sorts before b in canonical order: the non-digit
// prefix compares lexically, a trailing number compares numerically, and
// the full identifier breaks any remaining tie. "S2" sorts before "S10".
func Less(a, b NodeID) bool {
	pa, na, oka := splitNumeric(string(a))
	pb, nb, okb := splitNumeric(string(b))
	if pa != pb {
		return pa < pb
	}
	if oka && okb && na != nb {
		return na < nb
	}
	return a < b
}

// Canonical returns the pair ordered so that first sorts before second.
func Canonical(a, b NodeID) (first, second NodeID) {
	if Less(b, a) {
		return b, a
	}
	return a, b
}

func splitNumeric(s string) (string, int, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}

// pairKey is the canonical unordered node pair used to key links.
type pairKey [2]NodeID

func keyOf(a, b NodeID) pairKey {
	f, s := Canonical(a, b)
	return pairKey{f, s}
}

func (k pairKey) String() string {
	return strings.Join([]string{string(k[0]), string(k[1])}, "-")
}
