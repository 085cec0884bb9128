// Package core is the API chassis for the arcana backend. It owns the chi
// router, the cross-cutting middleware chain (recovery, request IDs,
// structured logging, CORS, identity resolution), the response envelope, and
// the health endpoint. Domain handlers register their routes through
// registrar functions, which keeps core free of handler imports.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"arcana/internal/config"
	"arcana/internal/identity"
)

// IdentityResolver maps an incoming request to the identity usage is tracked
// under. Implemented by identity.Resolver.
type IdentityResolver interface {
	Resolve(req *http.Request) (identity.Resolved, error)
}

// RouteRegistrar mounts a handler's routes on a router group. main wires
// registrars into the Server before MountRoutes; the indirection avoids an
// import cycle between core and the handler packages.
type RouteRegistrar func(r chi.Router)

// Server bundles the router with everything the middleware chain needs.
type Server struct {
	Config   *config.Config
	Logger   *slog.Logger
	Identity IdentityResolver

	// V1RouteRegistrars mount under /v1 behind identity resolution.
	V1RouteRegistrars []RouteRegistrar
	// WebhookRegistrars mount under /webhooks with NO identity middleware;
	// gateway callbacks authenticate by signature, not by session.
	WebhookRegistrars []RouteRegistrar

	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// Routes are mounted separately via MountRoutes so tests can customize
// registration.
func NewServer(cfg *config.Config, logger *slog.Logger, resolver IdentityResolver) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("identity resolver must not be nil")
	}

	return &Server{
		Config:   cfg,
		Logger:   logger,
		Identity: resolver,
		router:   chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server-held resources after the HTTP listener has
// drained.
func (s *Server) Shutdown(_ context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
