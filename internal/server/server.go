// Package server assembles the HTTP API: router, middleware chain and
// listener lifecycle.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/internal/config"
	apperrors "github.com/3leaps/adfanout/internal/errors"
	"github.com/3leaps/adfanout/internal/server/handlers"
	"github.com/3leaps/adfanout/internal/server/middleware"
)

// Services are the API handler groups. Nil groups are not routed.
type Services struct {
	Templates *handlers.TemplateHandler
	Media     *handlers.MediaHandler
	Jobs      *handlers.JobHandler
	Preview   *handlers.PreviewHandler
}

// AdminAction is run by POST /admin/signal.
type AdminAction func(ctx context.Context) error

// Server is the adfanout HTTP server.
type Server struct {
	host string
	port int

	logger       *zap.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	rateRPS      float64
	rateBurst    int
	pprof        bool
	services     Services
	adminToken   string
	adminActions map[string]AdminAction

	router chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeouts sets the listener timeouts. Zero values keep the defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// WithRateLimit enables per-client rate limiting when rps > 0.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

// WithPprof mounts net/http/pprof under /debug.
func WithPprof(enabled bool) Option {
	return func(s *Server) { s.pprof = enabled }
}

func WithServices(svc Services) Option {
	return func(s *Server) { s.services = svc }
}

// WithAdminToken overrides the token read from <PREFIX>_ADMIN_TOKEN.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithAdminAction registers a named action for POST /admin/signal.
func WithAdminAction(name string, action AdminAction) Option {
	return func(s *Server) {
		if s.adminActions == nil {
			s.adminActions = make(map[string]AdminAction)
		}
		s.adminActions[strings.ToLower(name)] = action
	}
}

// New creates a server bound to host:port. The router is built
// immediately; Start opens the listener.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
		adminToken:   os.Getenv(config.Identity().EnvPrefix + "_ADMIN_TOKEN"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	middleware.SetLogger(s.logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recovery)
	if s.rateRPS > 0 {
		r.Use(middleware.NewRateLimiter(s.rateRPS, s.rateBurst, 10*time.Minute).Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, fmt.Errorf("%w: %s", apperrors.ErrNotFound, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, fmt.Errorf("%w: %s %s", apperrors.ErrMethodNotAllowed, r.Method, r.URL.Path))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.pprof {
		r.Mount("/debug", chimw.Profiler())
	}

	s.registerAPI(r)
	s.registerAdminEndpoint(r)
	return r
}

func (s *Server) registerAPI(r chi.Router) {
	svc := s.services
	if svc.Templates == nil && svc.Media == nil && svc.Jobs == nil && svc.Preview == nil {
		return
	}
	r.Route("/api/v1", func(r chi.Router) {
		if h := svc.Templates; h != nil {
			r.Get("/templates", h.List)
			r.Post("/templates", h.Create)
			r.Get("/templates/{id}", h.Get)
			r.Put("/templates/{id}", h.Update)
			r.Delete("/templates/{id}", h.Delete)
		}
		if h := svc.Media; h != nil {
			r.Get("/media", h.List)
			r.Post("/media", h.Upload)
			r.Get("/media/{id}", h.Get)
			r.Delete("/media/{id}", h.Delete)
		}
		if h := svc.Jobs; h != nil {
			r.Post("/bulk", h.Submit)
			r.Get("/jobs", h.List)
			r.Get("/jobs/{id}", h.Get)
			r.Delete("/jobs/{id}", h.Delete)
			r.Get("/jobs/{id}/events", h.Events)
			r.Get("/jobs/{id}/ws", h.WebSocket)
		}
		if h := svc.Preview; h != nil {
			r.Post("/preview", h.Preview)
		}
	})
}

// AdminSignal is the body of POST /admin/signal.
type AdminSignal struct {
	Signal string `json:"signal"`
}

// registerAdminEndpoint exposes /admin/signal only when an admin token is
// configured.
func (s *Server) registerAdminEndpoint(r chi.Router) {
	if strings.TrimSpace(s.adminToken) == "" {
		return
	}
	r.Post("/admin/signal", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			apperrors.RespondWithError(w, r, apperrors.NewErrorEnvelope(apperrors.CodeUnauthorized, "invalid admin token").
				WithStatus(http.StatusUnauthorized))
			return
		}

		var body AdminSignal
		if err := decodeAdmin(r, &body); err != nil {
			apperrors.RespondWithError(w, r, err)
			return
		}
		name := strings.ToLower(strings.TrimSpace(body.Signal))
		action, ok := s.adminActions[name]
		if !ok {
			apperrors.RespondWithError(w, r, fmt.Errorf("%w: unknown signal %q (known: %s)",
				apperrors.ErrBadRequest, body.Signal, strings.Join(s.adminActionNames(), ", ")))
			return
		}
		s.logger.Info("Admin signal received", zap.String("signal", name))
		if err := action(r.Context()); err != nil {
			apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "admin signal "+name))
			return
		}
		apperrors.WriteJSON(w, http.StatusAccepted, map[string]string{"signal": name, "status": "accepted"})
	})
}

func decodeAdmin(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
	}
	return nil
}

func (s *Server) adminActionNames() []string {
	names := make([]string, 0, len(s.adminActions))
	for name := range s.adminActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port, or the bound port once Start has
// opened a listener on port 0.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// Addr is host:port as configured.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener, waiting for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
