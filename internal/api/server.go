// Package api exposes the rule store and the rescheduler over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/findex/internal/domain"
	"github.com/opensource-finance/findex/internal/rules"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the API serves. Only Syncer is required.
type Deps struct {
	Syncer     *rules.Syncer
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Metrics    domain.MetricsCollector
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Verbose  bool
	Version  string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORS(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// No collection required
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Get("/rules/help", handler.RulesHelp)
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Group(func(r chi.Router) {
		r.Use(CollectionMiddleware)

		r.Get("/rules", handler.GetRules)
		r.Put("/rules", handler.PutRules)
		r.Post("/rules/validate", handler.ValidateRules)
		r.Post("/rules/reload", handler.ReloadRules)
		r.Get("/rules/revisions", handler.ListRevisions)

		r.Post("/lookup", handler.Lookup)
		r.Post("/reschedule", handler.Reschedule)
		r.Post("/intervals", handler.ComputeInterval)
		r.Get("/adjustments/{id}", handler.GetAdjustment)
		r.Get("/items/{id}/history", handler.ItemHistory)
		r.Post("/report", handler.Report)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
