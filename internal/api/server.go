package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marginops/dealguard/internal/aiport"
	"github.com/marginops/dealguard/internal/domain"
	"github.com/marginops/dealguard/internal/guardrail"
	"github.com/marginops/dealguard/internal/workflow"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, wf *workflow.Service, validator *guardrail.Validator, facade *aiport.Facade, version string) *Server {
	handler := NewHandler(repo, cache, wf, validator, facade, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Discount request lifecycle
		r.Post("/requests", handler.CreateRequest)
		r.Get("/requests/{id}", handler.GetRequest)
		r.Post("/requests/{id}/evaluate", handler.EvaluateRequest)
		r.Post("/requests/{id}/approve", handler.Approve)
		r.Post("/requests/{id}/reject", handler.Reject)
		r.Post("/requests/{id}/adjust", handler.RequestAdjustment)
		r.Get("/requests/{id}/recommendation", handler.GetRecommendation)
		r.Get("/requests/{id}/explanation", handler.GetExplanation)
		r.Get("/requests/{id}/approvals", handler.ListApprovals)

		// Evaluation retrieval
		r.Get("/evaluations/{id}", handler.GetEvaluation)

		// Customer records
		r.Put("/customers/{id}", handler.SaveCustomer)
		r.Get("/customers/{id}", handler.GetCustomer)

		// Business rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)

		// Governance settings
		r.Get("/governance", handler.GetGovernance)
		r.Put("/governance", handler.UpdateGovernance)

		// AI observability
		r.Get("/metrics/ai", handler.AIMetrics)
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

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
