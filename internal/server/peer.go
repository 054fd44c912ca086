package server

import (
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// sendQueueDepth bounds the per-peer outbound queue. Replies and
// broadcasts share it; a full queue means the peer has stopped
// reading and gets disconnected.
const sendQueueDepth = 256

// Peer is one live wire-protocol connection. It owns the socket and a
// send queue drained by a single writer goroutine so concurrent
// replies and broadcasts never interleave partial bytes. The read
// buffer and the framer live in the server's read loop.
type Peer struct {
	id     string
	conn   net.Conn
	logger *slog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newPeer(conn net.Conn, logger *slog.Logger) *Peer {
	return &Peer{
		id:     uuid.NewString(),
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
	}
}

// ID returns the peer's connection identifier used in logs.
func (p *Peer) ID() string {
	return p.id
}

// RemoteAddr returns the peer's remote address.
func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// Send queues data for the writer goroutine. Returns false when the
// queue is full or the peer is closing; the caller decides whether
// that is fatal (the hub closes the peer).
func (p *Peer) Send(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Idempotent; unblocks both the
// writer and the read loop.
func (p *Peer) Close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// Done is closed once the peer begins shutting down.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// writeLoop is the peer's single writer: it serializes every outbound
// message onto the socket in queue order. A write error marks the
// peer gone.
func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.send:
			if _, err := p.conn.Write(data); err != nil {
				p.logger.Debug("peer write failed", "peer", p.id, "error", err)
				p.Close()
				return
			}
		}
	}
}
