// Package server provides the HTTP API for proshno.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/proshno/internal/config"
	"github.com/hyperjump/proshno/internal/search"
	"github.com/hyperjump/proshno/internal/vector"
	"go.uber.org/zap"
)

// Version is reported by GET /.
const Version = "1.0.0"

// Server is the HTTP server for the proshno API.
type Server struct {
	search *search.Service
	handle *vector.Handle
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies. handle reports
// readiness; a nil cfg means the built-in defaults.
func NewServer(
	svc *search.Service,
	handle *vector.Handle,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	}
	return &Server{
		search: svc,
		handle: handle,
		config: cfg,
		logger: logger,
	}
}

// Handler returns the router with all API routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/", s.handleRoot)
	r.Get("/search", s.handleSearch)
	r.Get("/ask", s.handleAsk)
	r.Post("/chat", s.handleChat)
	r.Get("/stats", s.handleStats)
	r.Get("/health", s.handleHealth)
	r.Post("/evaluate", s.handleEvaluate)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
