// Package tcpserver accepts relay clients and hands each connection to a
// worker pinned to a lane chosen by the load balancer.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/chatrelay/lane"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/router"
	"github.com/cyberinferno/chatrelay/safemap"
	"github.com/cyberinferno/chatrelay/wire"
	"github.com/cyberinferno/chatrelay/worker"
)

// TCPServer accepts connections on Addr. Every accepted connection gets a
// worker on the least loaded lane and is routed by Router. Live workers are
// kept in Sessions by connection ID.
type TCPServer struct {
	Logger   logger.Logger
	Name     string
	Addr     string
	Listener net.Listener
	Sessions *safemap.SafeMap[uuid.UUID, *worker.Worker]
	Running  atomic.Bool
	Router   *router.Router
	Metrics  *metrics.Metrics
	Balancer *lane.Balancer

	// Lanes is the ideal lane count; 0 selects lane.IdealCount.
	Lanes            int
	ReadBufferSize   int
	MaxFrameSize     uint32
	MaxPendingFrames int
	MaxOutboxBytes   int64

	mu         sync.Mutex
	acceptDone chan struct{}
}

// Stats is a point-in-time view of the server.
type Stats struct {
	Name        string   `json:"name"`
	Running     bool     `json:"running"`
	Addr        string   `json:"addr"`
	Connections int      `json:"connections"`
	Users       []string `json:"users"`
	LaneLoads   []int    `json:"lane_loads"`
}

// NewTCPServer creates a stopped server with its own router.
//
// Parameters:
//   - name: Server name used in log messages
//   - addr: Listen address, e.g. "0.0.0.0:9000"
//   - l: Logger
//   - m: Metrics sink, may be nil
//
// Returns:
//   - The TCPServer; call Start to listen
func NewTCPServer(name string, addr string, l logger.Logger, m *metrics.Metrics) *TCPServer {
	if l == nil {
		l = logger.NewNopLogger()
	}

	return &TCPServer{
		Logger:   l,
		Name:     name,
		Addr:     addr,
		Sessions: safemap.NewSafeMap[uuid.UUID, *worker.Worker](),
		Router:   router.New(l, m),
		Metrics:  m,
	}
}

// OnLogMessage forwards the message of every info or higher log entry to
// hook. Call it before Start.
func (s *TCPServer) OnLogMessage(hook func(text string)) {
	if hook == nil {
		return
	}

	s.Logger = logger.WithMessageHook(s.Logger, zerolog.InfoLevel, func(_ zerolog.Level, msg string) {
		hook(msg)
	})
}

// Start binds Addr and begins accepting in a goroutine. A fresh set of lanes is
// created for every run.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	if s.Logger == nil {
		s.Logger = logger.NewNopLogger()
	}

	if s.Sessions == nil {
		s.Sessions = safemap.NewSafeMap[uuid.UUID, *worker.Worker]()
	}

	if s.Router == nil {
		s.Router = router.New(s.Logger, s.Metrics)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.Listener = ln
	s.Balancer = lane.NewBalancer(s.Lanes, s.Logger)
	s.acceptDone = make(chan struct{})
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name),
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "lanes", Value: s.Balancer.Ideal()},
	)
	go s.AcceptLoop()

	return nil
}

// ListenAddr returns the bound address, which differs from Addr when Addr
// uses port 0. It is empty before Start.
func (s *TCPServer) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Listener == nil {
		return ""
	}

	return s.Listener.Addr().String()
}

// Stop stops listening, closes every live connection, waits for their I/O
// goroutines and finally drains and ends every lane, so all disconnect
// handling has run when Stop returns. Safe to call when not running.
func (s *TCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Running.Load() {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	s.Running.Store(false)
	if s.Listener != nil {
		_ = s.Listener.Close()
	}
	<-s.acceptDone

	workers := s.Sessions.Values()
	for _, w := range workers {
		_ = w.Close()
	}

	for _, w := range workers {
		w.Wait()
	}

	s.Balancer.Stop()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name), logger.Field{Key: "closed", Value: len(workers)})
}

// GetSession returns the live worker for a connection ID.
//
// Parameters:
//   - id: The connection ID to look up
//
// Returns:
//   - The worker and true if found, or nil and false otherwise
func (s *TCPServer) GetSession(id uuid.UUID) (*worker.Worker, bool) {
	return s.Sessions.Load(id)
}

// Stats returns the running flag, connection count, logged in users and
// per-lane loads.
func (s *TCPServer) Stats() Stats {
	st := Stats{
		Name:    s.Name,
		Running: s.Running.Load(),
		Addr:    s.ListenAddr(),
	}

	if s.Sessions != nil {
		st.Connections = s.Sessions.Len()
	}

	if s.Router != nil {
		st.Users = s.Router.Users()
	}

	s.mu.Lock()
	if s.Balancer != nil {
		st.LaneLoads = s.Balancer.Loads()
	}
	s.mu.Unlock()

	return st
}

// AcceptLoop accepts connections and hands each one off until the listener
// is closed.
func (s *TCPServer) AcceptLoop() {
	defer close(s.acceptDone)

	for s.Running.Load() {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err})
			continue
		}

		s.handoff(conn)
	}
}

// handoff configures conn and starts its worker. A connection whose socket
// options cannot be set is closed without taking a lane slot.
func (s *TCPServer) handoff(conn net.Conn) {
	if err := configureSocket(conn); err != nil {
		s.Logger.Warn("connection hand-off failed",
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
			logger.Field{Key: "error", Value: err},
		)
		_ = conn.Close()
		return
	}

	l, err := s.Balancer.Acquire()
	if err != nil {
		_ = conn.Close()
		return
	}

	w := worker.New(conn, l, worker.Options{
		Logger:         s.Logger,
		Metrics:        s.Metrics,
		ReadBufferSize:   s.ReadBufferSize,
		MaxFrameSize:     s.MaxFrameSize,
		MaxPendingFrames: s.MaxPendingFrames,
		MaxOutboxBytes:   s.MaxOutboxBytes,
	})
	w.OnFrame(func(w *worker.Worker, obj wire.Object) {
		s.Router.HandleFrame(w, obj)
	})
	w.OnDisconnected(func(w *worker.Worker) {
		s.release(w, nil)
	})
	w.OnTransportError(func(w *worker.Worker, err error) {
		s.release(w, err)
	})

	s.Router.Attach(w)
	s.Sessions.Store(w.ID(), w)
	s.Metrics.ConnectionOpened(l.ID())

	s.Logger.Info("client connected",
		logger.Field{Key: "conn_id", Value: w.ID().String()},
		logger.Field{Key: "remote", Value: w.RemoteAddr()},
		logger.Field{Key: "lane", Value: l.ID()},
	)
	w.Start()
}

// release runs on the worker's lane once the connection has ended.
func (s *TCPServer) release(w *worker.Worker, err error) {
	s.Router.HandleClose(w, err)
	s.Sessions.Delete(w.ID())
	s.Balancer.Release(w.Lane())
	s.Metrics.ConnectionClosed(w.LaneID())

	s.Logger.Info("client disconnected",
		logger.Field{Key: "conn_id", Value: w.ID().String()},
		logger.Field{Key: "user", Value: w.UserName()},
	)
}

func configureSocket(conn net.Conn) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	if err := tcp.SetNoDelay(true); err != nil {
		return fmt.Errorf("set no-delay: %w", err)
	}

	if err := tcp.SetKeepAlive(true); err != nil {
		return fmt.Errorf("set keep-alive: %w", err)
	}

	return nil
}
