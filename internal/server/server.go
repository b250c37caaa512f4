// Package server exposes the round engine over a websocket and a small
// JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/lox/wingo/internal/engine"
	"github.com/lox/wingo/internal/round"
)

// ConnectionMetrics observes websocket connections.
type ConnectionMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Server is the websocket and HTTP front end of the engine.
type Server struct {
	engine      *engine.Engine
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	httpServer  *http.Server

	defaultMode    round.Mode
	allowedOrigins []string
	metrics        ConnectionMetrics
	metricsHandler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins restricts CORS and websocket origins. Empty allows all.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithMetrics records connections and serves handler on /metrics.
func WithMetrics(m ConnectionMetrics, handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsHandler = handler
	}
}

// NewServer creates a server for e.
func NewServer(e *engine.Engine, logger *log.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		engine:      e,
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger.WithPrefix("server"),
		ctx:         ctx,
		cancel:      cancel,
	}
	if modes := e.Modes(); len(modes) > 0 {
		s.defaultMode = modes[0].Name
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	go s.run()
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Handler returns the HTTP routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("GET /api/modes", s.handleModes)
	mux.HandleFunc("GET /api/rounds/current", s.handleCurrentRound)
	mux.HandleFunc("GET /api/rounds/history", s.handleHistory)
	mux.HandleFunc("GET /api/wallet/balance", s.handleBalance)
	mux.HandleFunc("POST /api/bets", s.handlePlaceBet)
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", userHeader},
	}).Handler(mux)
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	srv := s.httpServer
	for conn := range s.connections {
		_ = conn.Close()
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// run handles the connection registry.
func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.connections[conn] = true
			total := len(s.connections)
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.ConnectionOpened()
			}
			s.logger.Info("Client connected", "user", conn.User(), "total", total)

		case conn := <-s.unregister:
			s.mu.Lock()
			_, ok := s.connections[conn]
			delete(s.connections, conn)
			total := len(s.connections)
			s.mu.Unlock()
			if ok {
				_ = conn.Close()
				if s.metrics != nil {
					s.metrics.ConnectionClosed()
				}
				s.logger.Info("Client disconnected", "user", conn.User(), "total", total)
			}

		case <-s.ctx.Done():
			return
		}
	}
}

// handleWebSocket upgrades the request. The user may be given as the
// "user" query parameter or the User-Id header, or later with an auth
// message; "mode" picks the initial event stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	mode := round.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = s.defaultMode
	}
	if _, err := s.engine.Runner(mode); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, s.engine, s.logger)
	if user := userFromRequest(r); user != "" {
		client.SetUser(user)
	}
	if err := client.Subscribe(mode); err != nil {
		s.logger.Error("Failed to subscribe connection", "mode", mode, "error", err)
		_ = conn.Close()
		return
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		_ = client.Close()
		return
	}
	client.Start()

	go func() {
		<-client.Done()
		select {
		case s.unregister <- client:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

// ConnectionCount returns the number of registered websocket connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
