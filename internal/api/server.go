package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/loandesk/internal/auth"
	"github.com/opensource-finance/loandesk/internal/domain"
	"github.com/opensource-finance/loandesk/internal/workflow"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *workflow.Service, issuer *auth.Issuer, profile domain.Profile, version string) *Server {
	handler := NewHandler(svc, issuer, profile, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging and latency
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Unauthenticated endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())
	router.Post("/login", handler.Login)

	// Pure calculators, no session needed
	router.Post("/review/view", handler.ResolveView)
	router.Post("/review/transition", handler.ComputeTransition)
	router.Post("/budget/summary", handler.BudgetSummary)

	router.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(issuer))

		r.Get("/me", handler.Me)

		// User directory
		r.Get("/users", handler.ListUsers)
		r.Post("/users", handler.AddUser)
		r.Delete("/users/{name}", handler.DeleteUser)

		// Applications
		r.Post("/applications", handler.CreateApplication)
		r.Get("/applications", handler.ListApplications)
		r.Get("/applications/counts", handler.Counts)
		r.Get("/applications/pending", handler.Pending)
		r.Get("/applications/{appNumber}", handler.GetApplication)
		r.Put("/applications/{appNumber}", handler.SaveApplication)
		r.Post("/applications/{appNumber}/actions", handler.Act)
		r.Get("/applications/{appNumber}/history", handler.History)
		r.Get("/applications/{appNumber}/checks", handler.ApplicationChecks)
		r.Post("/applications/{appNumber}/documents", handler.AddDocument)

		// Advisory check management
		r.Get("/checks", handler.ListChecks)
		r.Post("/checks", handler.SaveCheck)
		r.Delete("/checks/{id}", handler.DeleteCheck)
		r.Post("/checks/reload", handler.ReloadChecks)
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
