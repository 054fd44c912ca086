// Package server implements the device's wire protocol endpoint: a TCP
// listener accepting phone-app connections, a per-peer connection
// handler that frames and dispatches JSON messages, and a broadcast hub
// fanning state-change notifications out to every connected peer.
package server

import (
	"log/slog"
	"sync"

	"github.com/nugget/petdoor-sim/internal/protocol"
)

// Hub tracks the live peers and fans broadcasts out to them. It
// implements door.Broadcaster. Delivery is best-effort per peer: a
// peer that cannot keep up is disconnected rather than allowed to
// stall its siblings.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	peers map[*Peer]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		peers:  make(map[*Peer]struct{}),
	}
}

// Register adds a peer to the broadcast set.
func (h *Hub) Register(p *Peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Debug("peer registered", "peer", p.ID(), "peers", n)
}

// Unregister removes a peer. Safe to call for a peer that was already
// removed.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	delete(h.peers, p)
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Debug("peer unregistered", "peer", p.ID(), "peers", n)
}

// PeerCount returns the number of live peers.
func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Broadcast serializes msg once and queues it on every live peer. The
// membership set is snapshotted under the mutex and iterated outside
// it, so a peer's send path can never deadlock against registration.
func (h *Hub) Broadcast(msg protocol.Message) {
	data, err := msg.Marshal()
	if err != nil {
		h.logger.Error("broadcast marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	snapshot := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		snapshot = append(snapshot, p)
	}
	h.mu.Unlock()

	for _, p := range snapshot {
		if !p.Send(data) {
			h.logger.Warn("broadcast dropped, closing slow peer", "peer", p.ID())
			p.Close()
		}
	}
}

// CloseAll disconnects every peer, used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	snapshot := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		snapshot = append(snapshot, p)
	}
	h.mu.Unlock()

	for _, p := range snapshot {
		p.Close()
	}
}
