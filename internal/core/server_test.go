package core

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcana/internal/config"
	"arcana/internal/identity"
	"arcana/internal/types"
)

type stubResolver struct {
	resolved identity.Resolved
	err      error
}

func (s *stubResolver) Resolve(_ *http.Request) (identity.Resolved, error) {
	return s.resolved, s.err
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Service:     "arcana-api",
		Server: config.ServerConfig{
			Port:        "8080",
			ExternalURL: "http://localhost:8080",
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, resolver IdentityResolver) *Server {
	t.Helper()
	if resolver == nil {
		resolver = &stubResolver{
			resolved: identity.Resolved{Identity: types.AnonymousIdentity("2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90")},
		}
	}
	s, err := NewServer(testConfig(), testLogger(), resolver)
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	resolver := &stubResolver{}

	_, err := NewServer(nil, testLogger(), resolver)
	assert.Error(t, err)

	_, err = NewServer(testConfig(), nil, resolver)
	assert.Error(t, err)

	_, err = NewServer(testConfig(), testLogger(), nil)
	assert.Error(t, err)
}

func TestMountRoutes_IdentityOnlyOnV1(t *testing.T) {
	var v1Identity, webhookIdentity types.Identity
	var webhookHadIdentity bool

	s := newTestServer(t, nil)
	s.V1RouteRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Get("/probe", func(w http.ResponseWriter, req *http.Request) {
			v1Identity, _ = types.GetIdentity(req.Context())
			w.WriteHeader(http.StatusOK)
		})
	}}
	s.WebhookRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Post("/gateway", func(w http.ResponseWriter, req *http.Request) {
			webhookIdentity, webhookHadIdentity = types.GetIdentity(req.Context())
			w.WriteHeader(http.StatusOK)
		})
	}}
	s.MountRoutes()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/probe", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90", v1Identity.Key)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/gateway", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, webhookHadIdentity, "webhook routes must not run identity resolution")
	assert.Empty(t, webhookIdentity.Key)
}

func TestMountRoutes_V1DeadlineCoversWorkflowBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RequestTimeout = 50 * time.Millisecond
	cfg.Workflow.Timeout = 10 * time.Second

	s, err := NewServer(cfg, testLogger(), &stubResolver{
		resolved: identity.Resolved{Identity: types.AnonymousIdentity("2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90")},
	})
	require.NoError(t, err)

	var v1Remaining, webhookRemaining time.Duration
	s.V1RouteRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Get("/slow", func(w http.ResponseWriter, req *http.Request) {
			deadline, ok := req.Context().Deadline()
			require.True(t, ok)
			v1Remaining = time.Until(deadline)
			w.WriteHeader(http.StatusOK)
		})
	}}
	s.WebhookRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Post("/gateway", func(w http.ResponseWriter, req *http.Request) {
			deadline, ok := req.Context().Deadline()
			require.True(t, ok)
			webhookRemaining = time.Until(deadline)
			w.WriteHeader(http.StatusOK)
		})
	}}
	s.MountRoutes()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/slow", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, v1Remaining, cfg.Workflow.Timeout,
		"the v1 deadline must outlast the workflow budget")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/gateway", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.LessOrEqual(t, webhookRemaining, cfg.Server.RequestTimeout,
		"webhook routes keep the base request timeout")
}

func TestMountRoutes_HealthIsPublic(t *testing.T) {
	s := newTestServer(t, &stubResolver{err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", nil)})
	s.MountRoutes()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code, "health must answer even when identity resolution would fail")
}

func TestRecoverer_WritesErrorEnvelope(t *testing.T) {
	s := newTestServer(t, nil)
	s.V1RouteRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Get("/boom", func(http.ResponseWriter, *http.Request) {
			panic("unreachable state")
		})
	}}
	s.MountRoutes()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeInternalUnexpected))
}

func TestRequestIDMiddleware(t *testing.T) {
	s := newTestServer(t, nil)
	s.V1RouteRegistrars = []RouteRegistrar{func(r chi.Router) {
		r.Get("/probe", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}}
	s.MountRoutes()

	t.Run("propagates incoming header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/probe", nil)
		req.Header.Set("X-Request-Id", "req-77")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "req-77", rec.Header().Get("X-Request-Id"))
	})

	t.Run("generates when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/probe", nil))
		assert.Len(t, rec.Header().Get("X-Request-Id"), 32)
	})
}

func TestIdentityMiddleware(t *testing.T) {
	t.Run("minted token echoed to client", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{resolved: identity.Resolved{
			Identity:    types.AnonymousIdentity("fresh-token"),
			MintedToken: "fresh-token",
		}})
		s.V1RouteRegistrars = []RouteRegistrar{func(r chi.Router) {
			r.Get("/probe", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		}}
		s.MountRoutes()

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/probe", nil))
		assert.Equal(t, "fresh-token", rec.Header().Get(identity.AnonHeader))
	})

	t.Run("account actor stored in context", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{resolved: identity.Resolved{
			Identity: types.AccountIdentity("user-1"),
			Actor:    &types.Actor{ID: "user-1", Email: "u@example.com"},
		}})
		var gotActor types.Actor
		s.V1RouteRegistrars = []RouteRegistrar{func(r chi.Router) {
			r.Get("/probe", func(w http.ResponseWriter, req *http.Request) {
				gotActor, _ = types.GetActor(req.Context())
				w.WriteHeader(http.StatusOK)
			})
		}}
		s.MountRoutes()

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/probe", nil))
		assert.Equal(t, "user-1", gotActor.ID)
	})

	t.Run("invalid bearer token fails with 401", func(t *testing.T) {
		s := newTestServer(t, &stubResolver{err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", nil)})
		s.V1RouteRegistrars = []RouteRegistrar{func(r chi.Router) {
			r.Get("/probe", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		}}
		s.MountRoutes()

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/probe", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	s := newTestServer(t, nil)
	s.MountRoutes()

	req := httptest.NewRequest(http.MethodOptions, "/v1/anything", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), identity.AnonHeader)
}
