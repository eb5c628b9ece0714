// Package server exposes run progress over HTTP while a sweep executes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/memosweep/internal/server/handlers"
	"github.com/3leaps/memosweep/internal/server/middleware"
)

// Server is the status HTTP server.
type Server struct {
	host   string
	port   int
	router chi.Router
	logger *zap.Logger

	readTimeout time.Duration

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for panics and lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithStatus serves fn at /status.
func WithStatus(fn handlers.StatusFunc) Option {
	return func(s *Server) { s.router.Get("/status", handlers.StatusHandler(fn)) }
}

// WithVersion serves build information at /version.
func WithVersion(version, commit, buildDate string) Option {
	return func(s *Server) { s.router.Get("/version", handlers.VersionHandler(version, commit, buildDate)) }
}

// WithReadTimeout bounds request header and body reads.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// New builds a server listening on host:port. Port 0 picks a free port.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:        host,
		port:        port,
		router:      chi.NewRouter(),
		logger:      zap.NewNop(),
		readTimeout: 10 * time.Second,
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			middleware.RecoveryWithLogger(s.logger)(next).ServeHTTP(w, r)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path, nil)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			r.Method+" not allowed on "+r.URL.Path, nil)
	})

	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseAddr splits a "host:port" listen address.
func ParseAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid status address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid status port %q", portStr)
	}
	return host, port, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port, or the bound port once started.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().(*net.TCPAddr).Port
	}
	return s.port
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
	}

	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
