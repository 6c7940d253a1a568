package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	OTPIssued          *prometheus.CounterVec
	OTPVerifications   *prometheus.CounterVec
	SMSFailures        prometheus.Counter
	RateLimitDecisions *prometheus.CounterVec
	RateLimitFailOpen  prometheus.Counter
	ReferralsSubmitted *prometheus.CounterVec
	LeadTransitions    *prometheus.CounterVec
	Conversions        prometheus.Counter
}

// New creates a Metrics instance registered on its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		OTPIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otp_issued_total",
				Help: "OTP requests served, by whether an existing code was reused",
			},
			[]string{"reused"},
		),
		OTPVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otp_verifications_total",
				Help: "OTP verification attempts by outcome",
			},
			[]string{"outcome"},
		),
		SMSFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sms_send_failures_total",
			Help: "OTP SMS deliveries that failed",
		}),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_decisions_total",
				Help: "Rate limiter decisions",
			},
			[]string{"allowed"},
		),
		RateLimitFailOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_fail_open_total",
			Help: "Rate limit checks allowed because the store failed",
		}),
		ReferralsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referrals_submitted_total",
				Help: "Referral submissions by outcome",
			},
			[]string{"outcome"},
		),
		LeadTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lead_transitions_total",
				Help: "Lead status transitions by target status",
			},
			[]string{"status"},
		),
		Conversions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lead_conversions_total",
			Help: "Leads converted into students",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.OTPIssued, m.OTPVerifications, m.SMSFailures,
		m.RateLimitDecisions, m.RateLimitFailOpen,
		m.ReferralsSubmitted, m.LeadTransitions, m.Conversions,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
