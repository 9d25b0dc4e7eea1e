// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// domain services and encode; business rules never live here.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"verdant/internal/platform/metrics"
	"verdant/internal/platform/middleware"
)

// Deps carries everything the router wires together.
type Deps struct {
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	JWTValidator middleware.JWTValidator

	Identity IdentityService
	Actors   ActorResolver
	Tokens   TokenIssuer
	Certs    CertificateService
	Credits  CreditService
	Audit    AuditService

	// RateLimiter is optional; nil disables request limiting.
	RateLimiter middleware.RateLimiter

	// Health reports readiness of backing stores, nil checks are skipped.
	Health func(ctx context.Context) error
}

// NewRouter builds the full route tree. Registration and token exchange are
// public; everything else requires a bearer token.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.LatencyMiddleware(deps.Metrics))

	r.Get("/healthz", handleHealth(deps.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	public := chi.NewRouter()
	public.Use(middleware.ContentTypeJSON)
	if deps.RateLimiter != nil {
		// Applied before auth, so this layer keys by remote address and
		// covers every request once, including the authed fallthrough.
		public.Use(middleware.RateLimit(deps.RateLimiter, deps.Logger))
	}

	authed := chi.NewRouter()
	authed.Use(middleware.ContentTypeJSON)
	authed.Use(middleware.RequireAuth(deps.JWTValidator, deps.Logger))
	if deps.RateLimiter != nil {
		// Second layer keys by actor, so one identity cannot spend the
		// whole address budget from behind a shared NAT.
		authed.Use(middleware.RateLimit(deps.RateLimiter, deps.Logger))
	}

	NewAuthHandler(deps.Actors, deps.Tokens).Register(public)
	NewActorHandler(deps.Identity).Register(public, authed)
	NewCertificateHandler(deps.Certs).Register(authed)
	NewCreditHandler(deps.Credits, deps.Identity).Register(authed)
	NewAuditHandler(deps.Audit, deps.Identity).Register(authed)

	r.Mount("/", merge(public, authed))
	return r
}

// merge routes to public first, falling through to the authed tree for
// anything public does not serve. The method fallthrough matters: GET /actors
// exists only on the authed tree while POST /actors is public.
func merge(public, authed *chi.Mux) http.Handler {
	public.NotFound(authed.ServeHTTP)
	public.MethodNotAllowed(authed.ServeHTTP)
	return public
}

func handleHealth(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
