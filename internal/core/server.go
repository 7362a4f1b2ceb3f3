// Package core provides the API chassis for the ClimaScope report service.
// It creates a chi router compatible with both standard HTTP (for local dev)
// and AWS Lambda Proxy Integration. It enforces cross-cutting concerns --
// request correlation, logging, observability, and error handling -- before
// requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"climascope/internal/config"
	"climascope/internal/types"
)

// RouteRegistrar registers a group of domain handler routes on a chi router.
// The application entry point populates Server.V1RouteRegistrars with one
// registrar per handler package, avoiding import cycles between core and
// handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the ClimaScope API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   types.MetricsCollector

	// V1RouteRegistrars holds the handler route groups mounted under /v1.
	V1RouteRegistrars []RouteRegistrar

	// HealthProbes holds the subsystem checks executed by GET /health.
	HealthProbes []HealthProbe

	// Internal router
	router *chi.Mux

	// shutdownHooks holds registered cleanup functions, run in order during
	// Shutdown.
	shutdownHooks []func(context.Context) error
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a "fail-fast" check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("initializing validator: %w", err)
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: validator,
		router:    chi.NewRouter(),
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router.
// Used by http.ListenAndServe (local) and the Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources. Resource
// owners (database pool, dispatcher clients) register cleanup via OnShutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, fn := range s.shutdownHooks {
		if err := fn(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}

// OnShutdown registers a cleanup function executed during Shutdown, in
// registration order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.shutdownHooks = append(s.shutdownHooks, fn)
}
