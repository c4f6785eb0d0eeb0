// Package server exposes the session controller over HTTP for admin
// console frontends: state polling, activity reporting, extension, and
// logout. It also provides the credential-expiry interceptor for
// outbound API clients.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/newsroomtools/sessionguard/pkg/logging"
	"github.com/newsroomtools/sessionguard/pkg/ratelimit"
	"github.com/newsroomtools/sessionguard/pkg/session"
)

// Mutating session endpoints accept this many requests per client per
// minute. Frontends throttle activity reporting themselves; this is the
// backstop for the ones that don't.
const (
	writeRateLimit    = 120
	writeRateInterval = time.Minute
)

// Server represents the HTTP server
type Server struct {
	host       string
	port       int
	controller *session.Controller
	router     *chi.Mux
	limiter    *ratelimit.Limiter
	logger     logging.Logger
	httpServer *http.Server
}

// New creates a new server instance
func New(host string, port int, controller *session.Controller, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewSimpleLogger("server", logging.LevelInfo, true)
	}
	s := &Server{
		host:       host,
		port:       port,
		controller: controller,
		limiter:    ratelimit.NewLimiter(writeRateLimit, writeRateInterval),
		logger:     logger.WithModule("server"),
	}
	s.setupRouter()
	return s
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/session", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Group(func(r chi.Router) {
			r.Use(s.limitWrites)
			r.Post("/activity", s.handleActivity)
			r.Post("/focus", s.handleFocus)
			r.Post("/extend", s.handleExtend)
			r.Post("/logout", s.handleLogout)
			r.Post("/warning/dismiss", s.handleDismissWarning)
		})
	})

	s.router = r
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server shutdown error", "error", err)
		}
	}()

	s.logger.Info("Starting server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler (useful for testing)
func (s *Server) Handler() http.Handler {
	return s.router
}

// limitWrites rejects clients that flood the mutating endpoints.
// RealIP middleware has already normalized RemoteAddr.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.RemoteAddr) {
			s.logger.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs one line per request after it completes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", fmt.Sprintf("%d", ww.Status()),
			"duration", time.Since(start).String(),
		)
	})
}
