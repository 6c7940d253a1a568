package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ambassador/referrals/internal/ratelimit"
)

// RateLimitMiddleware limits requests per key using the shared fixed-window
// limiter. Limiter storage faults let the request through.
func RateLimitMiddleware(limiter *ratelimit.Limiter, limit int, window time.Duration, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Check(r.Context(), keyFunc(r), limit, window)
			if !res.Allowed {
				retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey extracts the client IP from the request for rate limiting
func GetIPKey(r *http.Request) string {
	return ratelimit.IPKey(ClientIP(r))
}

// ClientIP returns the first X-Forwarded-For hop, else RemoteAddr without port
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
