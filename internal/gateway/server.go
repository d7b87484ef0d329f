package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rvald/twinctl/internal/client"
	"golang.org/x/time/rate"
)

// ServerConfig holds configuration for the gateway server.
type ServerConfig struct {
	Port int
	Bind string // "loopback" (127.0.0.1) or "lan" (0.0.0.0)

	// RateLimit is the sustained number of upgrades accepted per second.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int

	MaxMessageSize int64
	PongWait       time.Duration
	PingPeriod     time.Duration
	WriteTimeout   time.Duration
	// SessionWait is how long a new connection may take to announce its
	// session before it is registered under the derived identity.
	SessionWait time.Duration
}

const (
	defaultMaxMessageSize = 512 * 1024
	defaultPongWait       = 60 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultSessionWait    = 500 * time.Millisecond
)

func (c ServerConfig) withDefaults() ServerConfig {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.SessionWait <= 0 {
		c.SessionWait = defaultSessionWait
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

// Endpoints maps WebSocket paths to logical channels.
var Endpoints = map[string]client.Channel{
	"/ws":        client.ChannelGeneral,
	"/ws/status": client.ChannelStatus,
	"/ws/health": client.ChannelHealth,
	"/ws/mcp":    client.ChannelCommand,
}

// Server is an HTTP server that upgrades connections to WebSocket
// and manages Conn lifecycles.
type Server struct {
	config   ServerConfig
	handler  ConnHandler
	upgrader websocket.Upgrader
	limiter  *rate.Limiter
	routes   map[string]http.Handler
	httpSrv  *http.Server
	addr     string
	mu       sync.Mutex
	conns    []*Conn
	connsMu  sync.Mutex
}

// NewServer creates a new gateway server.
func NewServer(config ServerConfig, handler ConnHandler) *Server {
	config = config.withDefaults()
	s := &Server{
		config:  config,
		handler: handler,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		routes: make(map[string]http.Handler),
	}
	if config.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}
	return s
}

// Handle registers an additional HTTP route. It must be called before
// ListenAndServe.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[pattern] = h
}

// Addr returns the address the server is listening on, or "" if not yet ready.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe starts the HTTP server and blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	for path, ch := range Endpoints {
		mux.HandleFunc(path, s.handleWS(ch))
	}
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", MetricsHandler())

	s.mu.Lock()
	for pattern, h := range s.routes {
		mux.Handle(pattern, h)
	}
	s.mu.Unlock()

	bindAddr := "127.0.0.1"
	if s.config.Bind == "lan" {
		bindAddr = "0.0.0.0"
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, s.config.Port))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.httpSrv = &http.Server{Handler: mux}
	s.mu.Unlock()

	// Shut down when context is cancelled.
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		s.httpSrv.Close()
	}()

	err = s.httpSrv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeAllConns()
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleWS(ch client.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			IncError("rate_limit")
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}

		wsConn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			IncError("upgrade")
			slog.Debug("websocket upgrade failed", "channel", ch, "error", err)
			return
		}

		conn := NewConn(wsConn, s.config, ch, identityFromRequest(r), s.handler)

		s.connsMu.Lock()
		s.conns = append(s.conns, conn)
		s.connsMu.Unlock()

		conn.Run(r.Context())

		s.removeConn(conn)
	}
}

// identityFromRequest collects the session hints a browser sends with the
// upgrade request.
func identityFromRequest(r *http.Request) client.Identity {
	id := client.Identity{UserAgent: r.UserAgent()}
	q := r.URL.Query()
	for _, key := range []string{"session_id", "sessionId", "client_id"} {
		if v := q.Get(key); v != "" {
			id.Explicit = v
			break
		}
	}
	if c, err := r.Cookie("session_id"); err == nil {
		id.Cookie = c.Value
	}
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	conns := make([]*Conn, len(s.conns))
	copy(conns, s.conns)
	s.connsMu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

func (s *Server) removeConn(conn *Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for i, c := range s.conns {
		if c == conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}
