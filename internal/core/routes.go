package core

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft request deadline when the config does
// not set one. It applies to the webhook and health groups; the /v1 group
// deadline is widened to cover the workflow budget.
const defaultRequestTimeout = 29 * time.Second

// workflowTimeoutGrace pads the /v1 deadline past the workflow budget so a
// slow engine answer is returned instead of cancelled mid-flight.
const workflowTimeoutGrace = 5 * time.Second

// defaultRedactedHeaders lists headers masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Anon-Id",
}

// MountRoutes registers the global middleware chain and the route groups.
//
// Chain order matters: Recoverer first so every panic is caught, then
// request ID, security headers, logging, and CORS. The context deadline is
// group-scoped: /v1 carries the workflow call, so its deadline must exceed
// the workflow budget, while /webhooks and /health answer from the store and
// keep the base request timeout. The /v1 group additionally resolves
// identity; /webhooks deliberately does NOT, the gateway authenticates by
// signature inside the handler.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(ContextTimeoutMiddleware(s.v1RequestTimeout()))
		r.Use(s.IdentityMiddleware)
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	s.router.Route("/webhooks", func(r chi.Router) {
		r.Use(ContextTimeoutMiddleware(s.requestTimeout()))
		for _, registrar := range s.WebhookRegistrars {
			registrar(r)
		}
	})

	s.router.With(ContextTimeoutMiddleware(s.requestTimeout())).Get("/health", s.HandleHealth)
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) v1RequestTimeout() time.Duration {
	base := s.requestTimeout()
	if wf := s.Config.Workflow.Timeout + workflowTimeoutGrace; wf > base {
		return wf
	}
	return base
}

func (s *Server) corsAllowedOrigins() []string {
	if len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}
