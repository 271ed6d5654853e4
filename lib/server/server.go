package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/niss337/securechat/lib/events"
	"github.com/niss337/securechat/lib/metrics"
	"github.com/niss337/securechat/lib/room"
	"github.com/niss337/securechat/lib/router"
	"github.com/niss337/securechat/lib/session"
	"github.com/niss337/securechat/lib/transport"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/niss337/securechat/lib/util/time/sntp"
	"github.com/samber/oops"
)

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("server already running")

// Option configures a Server.
type Option func(*Server)

// WithMetrics records server activity on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithEvents publishes chat activity to p.
func WithEvents(p events.Publisher) Option {
	return func(s *Server) {
		if p != nil {
			s.events = p
		}
	}
}

// WithClock sets the source of server timestamps.
func WithClock(c sntp.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// Server is a chat server that accepts client connections
type Server struct {
	config   *ServerConfig
	sessions *session.Registry
	rooms    *room.Registry
	router   *router.Router
	limiter  *transport.ConnectionLimiter

	metrics *metrics.Collector
	events  events.Publisher
	clock   sntp.Clock

	mu        sync.RWMutex
	running   bool
	listener  net.Listener
	startedAt time.Time

	accepted atomic.Uint64
	rejected atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // accept loop
	conns  sync.WaitGroup // connection handlers
}

// NewServer creates a new chat server
func NewServer(config *ServerConfig, opts ...Option) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.RateLimit < 0 {
		return nil, oops.In("server").With("rateLimit", config.RateLimit).Errorf("rate limit must not be negative")
	}
	if config.RateLimit > 0 && config.RateBurst < 1 {
		return nil, oops.In("server").With("rateBurst", config.RateBurst).Errorf("rate burst must be at least 1")
	}

	log.WithFields(logger.Fields{
		"at":          "server.NewServer",
		"network":     config.Network,
		"listenAddr":  config.ListenAddr,
		"maxSessions": config.MaxSessions,
		"tls":         config.TLS != nil,
	}).Info("creating_chat_server")

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		sessions: session.NewRegistry(),
		rooms:    room.NewRegistry(room.WithPruneEmpty(config.PruneEmptyRooms)),
		limiter:  transport.NewConnectionLimiter(config.MaxSessions),
		events:   events.Nop{},
		clock:    sntp.SystemClock{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = router.New(s.sessions, s.rooms,
		router.WithClock(s.clock),
		router.WithMetrics(s.metrics),
		router.WithEvents(s.events),
	)
	return s, nil
}

// Start begins listening for chat connections
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	listener, err := transport.Listen(s.config.Network, s.config.ListenAddr, s.config.TLS)
	if err != nil {
		return err
	}
	s.listener = listener
	s.running = true
	s.startedAt = time.Now()

	log.WithFields(logger.Fields{
		"at":      "server.Server.Start",
		"network": s.config.Network,
		"address": listener.Addr().String(),
	}).Info("chat_server_started")

	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

// Stop stops accepting connections and closes the listening socket.
// Connections already being served are left running.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	listener := s.listener
	s.mu.Unlock()

	s.cancel()

	var err error
	if listener != nil {
		if err = listener.Close(); err != nil {
			log.WithError(err).Warn("error_closing_listener")
		}
	}
	s.wg.Wait()

	log.WithFields(logger.Fields{
		"at":       "server.Server.Stop",
		"sessions": s.sessions.Count(),
	}).Info("chat_server_stopped")
	return err
}

// CloseSessions closes every live connection and waits up to ctx for their
// handlers to finish cleanup.
func (s *Server) CloseSessions(ctx context.Context) error {
	s.sessions.CloseAll()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Sessions returns the session registry shared by every connection.
func (s *Server) Sessions() *session.Registry {
	return s.sessions
}

// Rooms returns the room registry shared by every connection.
func (s *Server) Rooms() *room.Registry {
	return s.rooms
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"at":    "server.Server.acceptLoop",
				"panic": r,
			}).Error("panic_in_accept_loop")
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.handleAcceptError(err) {
				return
			}
			continue
		}

		log.WithFields(logger.Fields{
			"at":         "server.Server.acceptLoop",
			"remoteAddr": conn.RemoteAddr().String(),
			"localAddr":  conn.LocalAddr().String(),
		}).Debug("new_chat_connection")

		if s.shouldRejectConnection(conn) {
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleAcceptError processes errors from listener.Accept().
// Returns true if the accept loop should terminate, false to continue.
func (s *Server) handleAcceptError(err error) bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	log.WithField("at", "server.Server.handleAcceptError").WithError(err).Error("failed_to_accept_connection")
	time.Sleep(10 * time.Millisecond)
	return false
}

// shouldRejectConnection reserves a connection slot. When none is free it
// closes conn and returns true.
func (s *Server) shouldRejectConnection(conn net.Conn) bool {
	if err := s.limiter.Acquire(); err != nil {
		s.rejected.Add(1)
		s.metrics.ConnectionRejected("max_sessions")
		log.WithFields(logger.Fields{
			"at":          "server.Server.shouldRejectConnection",
			"active":      s.limiter.Active(),
			"maxSessions": s.config.MaxSessions,
			"remoteAddr":  conn.RemoteAddr().String(),
		}).Warn("max_sessions_reached_rejecting_connection")
		conn.Close()
		return true
	}
	return false
}

// ServeConn serves conn on the calling goroutine until it closes. It is
// what the accept loop runs for every connection and can be used to serve
// connections obtained elsewhere.
func (s *Server) ServeConn(conn net.Conn) {
	if s.shouldRejectConnection(conn) {
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	s.handleConnection(conn)
}
