// Package web serves the simulator's optional HTTP status surface: a
// JSON snapshot of the door state, a health endpoint, and a WebSocket
// stream of operational events for dashboards and tooling.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/petdoor-sim/internal/buildinfo"
	"github.com/nugget/petdoor-sim/internal/door"
	"github.com/nugget/petdoor-sim/internal/events"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP status server.
type Server struct {
	address string
	port    int
	sim     *door.Simulator
	bus     *events.Bus
	logger  *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates the status server. It does not bind until Start.
func NewServer(address string, port int, sim *door.Simulator, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		sim:     sim,
		bus:     bus,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The simulator is a local development tool; any origin
			// may watch the event stream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the server's handler, also used directly by tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// Start binds the listener and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web listener on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("web status server listening", "addr", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("web server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Debug("web server shutdown", "error", err)
	}
	s.logger.Info("web status server stopped")
}

// statusResponse is the /status payload.
type statusResponse struct {
	DoorStatus     string            `json:"door_status"`
	Power          bool              `json:"power"`
	Auto           bool              `json:"auto"`
	InsideEnabled  bool              `json:"inside_enabled"`
	OutsideEnabled bool              `json:"outside_enabled"`
	SafetyLock     bool              `json:"safety_lock"`
	CmdLockout     bool              `json:"cmd_lockout"`
	Autoretract    bool              `json:"autoretract"`
	HoldTimeSec    float64           `json:"hold_time_sec"`
	Battery        int               `json:"battery_percent"`
	BatteryPresent bool              `json:"battery_present"`
	ACPresent      bool              `json:"ac_present"`
	OpenCycles     int               `json:"total_open_cycles"`
	AutoRetracts   int               `json:"total_auto_retracts"`
	Timezone       string            `json:"timezone"`
	Schedules      int               `json:"schedules"`
	Build          map[string]string `json:"build"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.sim.Snapshot()
	writeJSON(w, statusResponse{
		DoorStatus:     string(st.DoorStatus),
		Power:          st.Power,
		Auto:           st.Auto,
		InsideEnabled:  st.InsideEnabled,
		OutsideEnabled: st.OutsideEnabled,
		SafetyLock:     st.SafetyLock,
		CmdLockout:     st.CmdLockout,
		Autoretract:    st.Autoretract,
		HoldTimeSec:    st.HoldTime,
		Battery:        st.ReportedBatteryPercent(),
		BatteryPresent: st.BatteryPresent,
		ACPresent:      st.ACPresent,
		OpenCycles:     st.TotalOpenCycles,
		AutoRetracts:   st.TotalAutoRetracts,
		Timezone:       st.Timezone,
		Schedules:      len(st.Schedules),
		Build:          buildinfo.RuntimeInfo(),
	}, s.logger)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "ok",
		"uptime": buildinfo.Uptime().String(),
	}, s.logger)
}

// handleEvents upgrades to WebSocket and streams bus events as JSON
// objects, one message per event, until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine: we never expect client frames, but reading is
	// how close frames and errors surface.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream attached", "remote", r.RemoteAddr)
	for {
		select {
		case <-closed:
			return
		case evt, okCh := <-ch:
			if !okCh {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
