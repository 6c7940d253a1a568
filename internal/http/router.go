package http

import (
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ambassador/referrals/internal/auth"
	"github.com/ambassador/referrals/internal/http/handlers"
	"github.com/ambassador/referrals/internal/metrics"
	"github.com/ambassador/referrals/internal/middleware"
	"github.com/ambassador/referrals/internal/ratelimit"
)

// RouterDeps collects everything the router wires together
type RouterDeps struct {
	Health      *handlers.HealthHandler
	OTP         *handlers.OTPHandler
	Ambassadors *handlers.AmbassadorHandler
	Referrals   *handlers.ReferralHandler
	Leads       *handlers.LeadHandler

	Resolver auth.ActorResolver
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics

	// Per-IP limit on the unauthenticated OTP and registration endpoints
	IPRequestLimit  int
	IPRequestWindow time.Duration
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(chimw.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Method("GET", "/metrics", d.Metrics.Handler())
	}

	r.Get("/health", d.Health.ServeHTTP)

	// Public routes, limited per client address
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitMiddleware(d.Limiter, d.IPRequestLimit, d.IPRequestWindow, middleware.GetIPKey))
		r.Post("/otp/request", d.OTP.HandleRequestOTP)
		r.Post("/otp/verify", d.OTP.HandleVerifyOTP)
		r.Post("/ambassadors/register", d.Ambassadors.HandleRegister)
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(d.Resolver))
		r.Get("/me", d.Ambassadors.HandleMe)
		r.Get("/ambassadors/{id}/stats", d.Ambassadors.HandleStats)

		r.Post("/referrals", d.Referrals.HandleSubmit)
		r.Get("/referrals", d.Referrals.HandleList)

		r.Route("/leads/{id}", func(r chi.Router) {
			r.Get("/", d.Leads.HandleGet)
			r.Post("/confirm", d.Leads.HandleConfirm)
			r.Post("/status", d.Leads.HandleStatus)
			r.Post("/convert", d.Leads.HandleConvert)
		})
	})

	return r
}
