package intranet

import (
	"sync"

	"github.com/umbra-net/umbra-go/model/umbra"
)

// Hub is a test and single-process fabric connecting the networks of
// all committee members. Each member attaches one Network; events sent
// through a conduit are delivered to the processors registered on the
// same channel of the other attached networks.
type Hub struct {
	mu       sync.RWMutex
	networks map[umbra.Identifier]*Network
}

// NewHub creates a hub with no attached networks.
func NewHub() *Hub {
	return &Hub{
		networks: make(map[umbra.Identifier]*Network),
	}
}

// AddNetwork creates a network for the given member and attaches it to
// the hub. Attaching the same member twice returns the existing network.
func (h *Hub) AddNetwork(nodeID umbra.Identifier) *Network {
	h.mu.Lock()
	defer h.mu.Unlock()

	if net, ok := h.networks[nodeID]; ok {
		return net
	}
	net := newNetwork(h, nodeID)
	h.networks[nodeID] = net
	return net
}

// getNetwork returns the network attached for the given member.
func (h *Hub) getNetwork(nodeID umbra.Identifier) (*Network, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	net, ok := h.networks[nodeID]
	return net, ok
}

// memberIDs returns the identifiers of all attached members.
func (h *Hub) memberIDs() umbra.IdentifierList {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make(umbra.IdentifierList, 0, len(h.networks))
	for id := range h.networks {
		ids = append(ids, id)
	}
	return ids
}
