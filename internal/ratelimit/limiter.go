// Package ratelimit implements a fixed-window counter per identifier.
//
// Storage errors fail OPEN: the request is allowed, logged and counted. This
// is the opposite of the OTP and lead transactions, which fail closed. Do not
// unify the two policies; a limiter that fails closed turns a database blip
// into a lockout of every user.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/metrics"
)

// Hit is the state of a window after recording (or refusing) one action
type Hit struct {
	Count   int
	ResetAt time.Time
	Allowed bool
}

// Store records one action for key. It must apply the fixed-window rules
// atomically:
//   - no window, or window expired (resetAt < now): count=1, resetAt=now+window, allowed
//   - count >= limit in a live window: unchanged, not allowed
//   - otherwise: count+1, allowed
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Hit, error)
}

// Result is returned to callers of Check
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	FailedOpen bool
}

// Limiter applies limits over a Store
type Limiter struct {
	store   Store
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewLimiter creates a limiter. metrics may be nil.
func NewLimiter(store Store, log logger.Logger, m *metrics.Metrics) *Limiter {
	return &Limiter{store: store, log: log, metrics: m, now: time.Now}
}

// Check records one action for identifier and reports whether it is allowed.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) Result {
	if limit <= 0 {
		return Result{Allowed: false}
	}

	now := l.now()
	hit, err := l.store.Hit(ctx, identifier, limit, window, now)
	if err != nil {
		l.log.Warn("rate limit store failed, allowing request", "key", identifier, "error", err)
		if l.metrics != nil {
			l.metrics.RateLimitFailOpen.Inc()
		}
		return Result{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window), FailedOpen: true}
	}

	res := Result{Allowed: hit.Allowed, ResetAt: hit.ResetAt}
	if hit.Allowed {
		res.Remaining = max(limit-hit.Count, 0)
	}
	if l.metrics != nil {
		label := "true"
		if !hit.Allowed {
			label = "false"
		}
		l.metrics.RateLimitDecisions.WithLabelValues(label).Inc()
	}
	return res
}

// OTPKey builds the identifier for OTP requests on a normalized mobile.
func OTPKey(purpose, mobile string) string {
	return "otp:" + purpose + ":" + mobile
}

// OTPVerifyKey builds the identifier for wrong guesses against one issued
// code. A newly issued code starts a fresh count.
func OTPVerifyKey(mobile string, issuedAt time.Time) string {
	return "otp:verify:" + mobile + ":" + strconv.FormatInt(issuedAt.UnixNano(), 10)
}

// IPKey builds the identifier for per-address limits.
func IPKey(addr string) string {
	return "ip:" + addr
}
