// Package api provides the HTTP API server and handlers for GameRequest.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gamerequest/gamerequest-server/internal/metrics"
	"github.com/gamerequest/gamerequest-server/internal/ratelimit"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

// Options configures the HTTP surface.
type Options struct {
	Version     string
	CORSOrigins []string
	// Inbound limit for the unauthenticated auth endpoints, per client IP.
	AuthRPS   float64
	AuthBurst int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store           store.Store
	services        *Services
	router          chi.Router
	api             huma.API
	metrics         *metrics.Metrics
	authRateLimiter *ratelimit.KeyedRateLimiter
	logger          *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(st store.Store, services *Services, opts Options, m *metrics.Metrics, logger *slog.Logger) *Server {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.AuthRPS <= 0 {
		opts.AuthRPS = 1
	}
	if opts.AuthBurst <= 0 {
		opts.AuthBurst = 10
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	var sink eventSink
	if services.Notify != nil {
		sink = services.Notify
	}
	router.Use(systemErrorMiddleware(sink))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(metricsMiddleware(m))
	router.Use(authMiddleware(services.Auth))

	humaConfig := huma.DefaultConfig("GameRequest API", opts.Version)
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)

	api := humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s := &Server{
		store:           st,
		services:        services,
		router:          router,
		api:             api,
		metrics:         m,
		authRateLimiter: ratelimit.New(opts.AuthRPS, opts.AuthBurst),
		logger:          logger,
	}

	router.Handle("/metrics", m.Handler())

	s.registerHealthRoutes()
	s.registerAuthRoutes()
	s.registerCatalogRoutes()
	s.registerImportRoutes()
	s.registerRequestRoutes()
	s.registerAdminRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mostly for OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	s.authRateLimiter.Stop()
}

// HTTPServer wraps the handler with the configured timeouts.
func (s *Server) HTTPServer(addr string, read, write, idle time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}
}
