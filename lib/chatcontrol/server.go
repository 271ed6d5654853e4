package chatcontrol

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/niss337/securechat/lib/metrics"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/samber/oops"
)

// maxRequestBody caps a JSON-RPC request body.
const maxRequestBody = 1 << 20

// Config configures the control server.
type Config struct {
	// Address to listen on, e.g. "localhost:7650".
	Address string
	// Password required by Authenticate. Must not be empty.
	Password string
	// TokenExpiration is how long an issued token stays valid.
	TokenExpiration time.Duration
	// CleanupInterval is how often expired tokens are dropped.
	CleanupInterval time.Duration
	// TLS enables HTTPS when set.
	TLS *tls.Config
}

// DefaultConfig returns a Config with sensible defaults. The password is
// left empty and must be set.
func DefaultConfig() Config {
	return Config{
		Address:         "localhost:7650",
		TokenExpiration: 10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// Server serves the control endpoints over HTTP.
type Server struct {
	config   Config
	auth     *AuthManager
	registry *MethodRegistry
	handler  http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer builds a control server reading from stats. When collector is
// nil /metrics answers 404.
func NewServer(cfg Config, stats ChatStatsProvider, collector *metrics.Collector) (*Server, error) {
	if stats == nil {
		return nil, oops.In("chatcontrol").Errorf("stats provider cannot be nil")
	}
	if cfg.Password == "" {
		return nil, oops.In("chatcontrol").Errorf("password cannot be empty")
	}
	defaults := DefaultConfig()
	if cfg.TokenExpiration <= 0 {
		cfg.TokenExpiration = defaults.TokenExpiration
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}

	auth, err := NewAuthManager(cfg.Password)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		auth:     auth,
		registry: registerRPCHandlers(stats, auth, cfg.TokenExpiration),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.handler = s.routes(collector)
	return s, nil
}

// registerRPCHandlers builds the method table.
func registerRPCHandlers(stats ChatStatsProvider, auth *AuthManager, expiration time.Duration) *MethodRegistry {
	registry := NewMethodRegistry()
	registry.Register("Echo", EchoHandler{})
	registry.Register("ServerInfo", ServerInfoHandler{stats: stats})
	registry.Register("ListRooms", ListRoomsHandler{stats: stats})
	registry.Register("ListUsers", ListUsersHandler{stats: stats})
	registry.Register("RoomMembers", RoomMembersHandler{stats: stats})
	registry.Register("Authenticate", RPCHandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			API      int    `json:"API"`
			Password string `json:"Password"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.API != 1 {
			return nil, NewRPCError(ErrCodeInvalidParams, "unsupported API version")
		}
		token, err := auth.Authenticate(req.Password, expiration)
		if err != nil {
			return nil, NewRPCError(ErrCodeAuthFailed, err.Error())
		}
		return map[string]interface{}{"API": req.API, "Token": token}, nil
	}))
	return registry
}

func (s *Server) routes(collector *metrics.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/jsonrpc", s.handleRPC)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok")
	})
	if collector != nil {
		r.Method(http.MethodGet, "/metrics", collector.Handler())
	}
	return r
}

// Handler returns the HTTP handler, for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return oops.In("chatcontrol").Errorf("control server already started")
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return oops.In("chatcontrol").With("address", s.config.Address).Wrapf(err, "listen")
	}
	if s.config.TLS != nil {
		ln = tls.NewListener(ln, s.config.TLS)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.WithFields(logger.Fields{
		"at":      "chatcontrol.Server.Start",
		"address": ln.Addr().String(),
		"https":   s.config.TLS != nil,
	}).Info("control_server_started")

	srv := s.httpServer
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("at", "chatcontrol.Server.Start").WithError(err).Error("control_server_failed")
		}
	}()
	go s.cleanupTokens()
	return nil
}

func (s *Server) cleanupTokens() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.auth.CleanupExpiredTokens()
		}
	}
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the HTTP server down, waiting up to ctx for requests in flight.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wg.Wait()
	log.WithField("at", "chatcontrol.Server.Stop").Info("control_server_stopped")
	return err
}

// handleRPC serves one JSON-RPC request.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		writeResponse(w, NewErrorResponse(nil, NewRPCError(ErrCodeInvalidRequest, "Content-Type must be application/json")))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeResponse(w, NewErrorResponse(nil, NewRPCError(ErrCodeInternalError, "Failed to read request body")))
		return
	}
	if len(body) > maxRequestBody {
		writeResponse(w, NewErrorResponse(nil, NewRPCError(ErrCodeInvalidRequest, "Request body too large")))
		return
	}

	req, rpcErr := ParseRequest(body)
	if rpcErr != nil {
		writeResponse(w, NewErrorResponse(nil, rpcErr))
		return
	}
	if rpcErr := s.validateAuthentication(req); rpcErr != nil {
		writeResponse(w, NewErrorResponse(req.ID, rpcErr))
		return
	}

	log.WithFields(logger.Fields{
		"at":        "chatcontrol.Server.handleRPC",
		"method":    req.Method,
		"requestID": middleware.GetReqID(r.Context()),
	}).Debug("rpc_request")

	resp := s.registry.HandleParsedRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeResponse(w, resp)
}

// validateAuthentication checks the Token parameter of every method
// except Authenticate.
func (s *Server) validateAuthentication(req *Request) *RPCError {
	if req.Method == "Authenticate" {
		return nil
	}
	var params struct {
		Token string `json:"Token"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewRPCError(ErrCodeInvalidParams, "Missing or invalid Token parameter")
		}
	}
	if params.Token == "" {
		return NewRPCError(ErrCodeAuthRequired, "Missing or invalid Token parameter")
	}
	if !s.auth.ValidateToken(params.Token) {
		return NewRPCError(ErrCodeAuthRequired, "Invalid or expired authentication token")
	}
	return nil
}

// writeResponse writes resp with status 200, as JSON-RPC over HTTP does
// for errors too.
func writeResponse(w http.ResponseWriter, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.WithField("at", "chatcontrol.writeResponse").WithError(err).Error("rpc_response_marshal_failed")
		data, _ = json.Marshal(NewErrorResponse(resp.ID, NewRPCError(ErrCodeInternalError, "Failed to serialize response")))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
