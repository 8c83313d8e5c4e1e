// Package server exposes the session engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opencode-ai/codeagent/internal/event"
	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/mcp"
	"github.com/opencode-ai/codeagent/internal/permission"
	"github.com/opencode-ai/codeagent/internal/provider"
	"github.com/opencode-ai/codeagent/internal/session"
	"github.com/opencode-ai/codeagent/internal/tool"
)

// Config controls the listener.
type Config struct {
	Host string
	Port int
	// Directory is where sessions created without one are rooted.
	Directory  string
	EnableCORS bool
	// ReadTimeout bounds reading a request. Responses have no write
	// timeout since event streams stay open.
	ReadTimeout time.Duration
	// ShutdownTimeout bounds the graceful stop in Run.
	ShutdownTimeout time.Duration
}

// DefaultConfig listens on localhost:8080 with CORS on.
func DefaultConfig() *Config {
	return &Config{
		Host:            "127.0.0.1",
		Port:            8080,
		EnableCORS:      true,
		ReadTimeout:     30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Deps are the engine components the server exposes. Asker and Bus may be
// nil; the permission and event endpoints then report 503. MCP is nil when
// no servers are configured.
type Deps struct {
	Store     *session.Store
	Processor *session.Processor
	Providers *provider.Registry
	Tools     *tool.Registry
	Asker     *permission.Asker
	Bus       *event.Bus
	MCP       *mcp.Client
}

// Server routes HTTP requests to the engine.
type Server struct {
	Deps
	config *Config
	router *chi.Mux
}

// New builds the router. cfg nil means DefaultConfig.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{Deps: deps, config: cfg, router: chi.NewRouter()}
	s.router.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)
	if cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	s.setupRoutes()
	return s
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Component("http").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("requestID", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// Addr is the host:port Run listens on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx ends, then drains open requests for up to
// ShutdownTimeout. Event streams end when their request contexts do.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logging.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
