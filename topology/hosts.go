package topology

import (
	"fmt"
	"net/netip"
	"sort"
)

// AttachmentOf returns where host id is plugged in.
func (t *Topology) AttachmentOf(id string) (Attachment, error) {
	h, err := t.Host(id)
	if err != nil {
		return Attachment{}, err
	}
	return h.Attachment, nil
}

// Host returns the host with the given id.
func (t *Topology) Host(id string) (Host, error) {
	h, ok := t.hosts[id]
	if !ok || !t.HasNode(h.Node) {
		return Host{}, fmt.Errorf("host %q: %w", id, ErrUnknownHost)
	}
	return h, nil
}

// HostByAddress returns the host owning addr.
func (t *Topology) HostByAddress(addr netip.Addr) (Host, error) {
	id, ok := t.addrs[addr]
	if !ok {
		return Host{}, fmt.Errorf("address %s: %w", addr, ErrUnknownHost)
	}
	return t.Host(id)
}

// HostAt returns the host plugged into port of node, if any.
func (t *Topology) HostAt(node NodeID, port int) (Host, bool) {
	if !t.HasNode(node) {
		return Host{}, false
	}
	for _, h := range t.hosts {
		if h.Node == node && h.Port == port {
			return h, true
		}
	}
	return Host{}, false
}

// Hosts returns every host sorted by id.
func (t *Topology) Hosts() []Host {
	out := make([]Host, 0, len(t.hosts))
	for _, h := range t.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return Less(NodeID(out[i].ID), NodeID(out[j].ID)) })
	return out
}
