package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/nugget/petdoor-sim/internal/door"
	"github.com/nugget/petdoor-sim/internal/events"
	"github.com/nugget/petdoor-sim/internal/protocol"
)

// levelTrace mirrors config.LevelTrace for wire-level forensics
// without importing the config package.
const levelTrace = slog.Level(-8)

// Server is the wire protocol endpoint. It owns the listener, the
// hub, and one connection handler per accepted peer.
type Server struct {
	host     string
	port     int
	sim      *door.Simulator
	registry *Registry
	hub      *Hub
	bus      *events.Bus
	logger   *slog.Logger

	// OnConnect and OnDisconnect are optional host hooks fired as
	// peers come and go (the interactive front end repaints its
	// prompt from these). Set before Start.
	OnConnect    func(peerID string)
	OnDisconnect func(peerID string)

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates a wire server for the simulator. The hub it creates is
// also the simulator's Broadcaster; the caller wires that up.
func New(host string, port int, sim *door.Simulator, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		host:     host,
		port:     port,
		sim:      sim,
		registry: NewRegistry(sim, logger),
		hub:      NewHub(logger),
		bus:      bus,
		logger:   logger,
	}
}

// Hub returns the broadcast hub, for wiring into the simulator.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Addr returns the bound listener address, useful when port 0 was
// requested.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener and launches the accept loop. A bind
// failure is fatal and surfaces to the caller.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wire listener on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("door simulator listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

// Stop closes the listener and every peer, then waits for the
// connection handlers to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.hub.CloseAll()
	s.wg.Wait()
	s.logger.Info("door simulator stopped")
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// handleConn is one peer's read loop: frame the byte stream, parse
// each object, dispatch it, and queue the reply on this peer's writer.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	peer := newPeer(conn, s.logger)
	s.hub.Register(peer)
	go peer.writeLoop()

	s.logger.Info("peer connected", "peer", peer.ID(), "remote", peer.RemoteAddr())
	s.bus.Publish(events.Event{
		Source: events.SourceServer,
		Kind:   events.KindPeerConnected,
		Data:   map[string]any{"peer_id": peer.ID(), "remote_addr": peer.RemoteAddr()},
	})
	if s.OnConnect != nil {
		s.OnConnect(peer.ID())
	}

	defer func() {
		peer.Close()
		s.hub.Unregister(peer)
		s.logger.Info("peer disconnected", "peer", peer.ID(), "remote", peer.RemoteAddr())
		s.bus.Publish(events.Event{
			Source: events.SourceServer,
			Kind:   events.KindPeerDisconnected,
			Data:   map[string]any{"peer_id": peer.ID(), "remote_addr": peer.RemoteAddr()},
		})
		if s.OnDisconnect != nil {
			s.OnDisconnect(peer.ID())
		}
	}()

	framer := protocol.NewFramer(protocol.DefaultMaxFrame)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			// EOF and reset are the normal ends of a peer's life.
			return
		}
		s.logger.Log(ctx, levelTrace, "wire bytes in",
			"peer", peer.ID(), "bytes", n)
		framer.Append(buf[:n])

		for {
			obj, err := framer.Next()
			if err != nil {
				s.logger.Warn("framing violation, closing peer",
					"peer", peer.ID(), "error", err)
				return
			}
			if obj == nil {
				break
			}

			var req protocol.Message
			if err := json.Unmarshal(obj, &req); err != nil {
				s.logger.Warn("unparseable frame skipped",
					"peer", peer.ID(), "error", err, "frame", string(obj))
				continue
			}
			s.logger.Log(ctx, levelTrace, "frame in",
				"peer", peer.ID(), "frame", string(obj))

			reply := s.registry.Dispatch(req)
			data, err := reply.Marshal()
			if err != nil {
				s.logger.Error("reply marshal failed", "error", err)
				continue
			}
			s.logger.Log(ctx, levelTrace, "frame out",
				"peer", peer.ID(), "frame", string(data))
			if !peer.Send(data) {
				return
			}
		}
	}
}
