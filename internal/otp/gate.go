// Package otp issues and verifies one-time codes that gate referral
// submission and ambassador registration.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/metrics"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/phone"
	"github.com/ambassador/referrals/internal/ratelimit"
	"github.com/ambassador/referrals/internal/repo"
	"github.com/ambassador/referrals/internal/sms"
)

// Purposes scope the per-mobile request limit
const (
	PurposeReferral     = "referral"
	PurposeRegistration = "registration"
)

const (
	codeLength   = 6
	issueRetries = 3

	// DefaultMaxVerifyAttempts is used when Config.MaxVerifyAttempts is unset.
	DefaultMaxVerifyAttempts = 5
)

// Config tunes the gate
type Config struct {
	TTL           time.Duration
	RequestLimit  int
	RequestWindow time.Duration
	// MaxVerifyAttempts is the number of wrong guesses a code survives. The
	// last one burns it and the caller must request a new code.
	MaxVerifyAttempts int
	// FixedCode replaces random codes when set. Dev mode only.
	FixedCode string
}

// Issued describes the live code after a request
type Issued struct {
	Code      string
	ExpiresAt time.Time
	Reused    bool
}

// Gate implements the OTP request and verify flows
type Gate struct {
	otps       repo.OtpRepo
	sender     sms.Sender
	limiter    *ratelimit.Limiter
	normalizer *phone.Normalizer
	log        logger.Logger
	metrics    *metrics.Metrics
	cfg        Config

	now     func() time.Time
	newCode func() (string, error)
}

// NewGate creates a Gate. m may be nil.
func NewGate(
	otps repo.OtpRepo,
	sender sms.Sender,
	limiter *ratelimit.Limiter,
	normalizer *phone.Normalizer,
	log logger.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Gate {
	if cfg.MaxVerifyAttempts <= 0 {
		cfg.MaxVerifyAttempts = DefaultMaxVerifyAttempts
	}
	g := &Gate{
		otps:       otps,
		sender:     sender,
		limiter:    limiter,
		normalizer: normalizer,
		log:        log,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
		newCode:    generateCode,
	}
	if cfg.FixedCode != "" {
		g.newCode = func() (string, error) { return cfg.FixedCode, nil }
	}
	return g
}

// RequestOTP returns the live code for mobile, creating one if none exists or
// the previous one expired. Repeated requests inside the TTL resend the same
// code with the same expiry. SMS delivery failures are logged, not returned.
func (g *Gate) RequestOTP(ctx context.Context, mobile, purpose string) (Issued, error) {
	normalized, err := g.normalizer.Normalize(mobile)
	if err != nil {
		return Issued{}, apperr.New(apperr.Validation, err.Error())
	}

	if res := g.limiter.Check(ctx, ratelimit.OTPKey(purpose, normalized), g.cfg.RequestLimit, g.cfg.RequestWindow); !res.Allowed {
		return Issued{}, apperr.Newf(apperr.RateLimited, "too many OTP requests, retry after %s", res.ResetAt.UTC().Format(time.RFC3339))
	}

	code, err := g.newCode()
	if err != nil {
		return Issued{}, apperr.StorageErr("generate otp", err)
	}

	var issued Issued
	for attempt := 1; ; attempt++ {
		now := g.now()
		rec, reused, err := g.otps.IssueOrReuse(ctx, normalized, code, now.Add(g.cfg.TTL), now)
		if err == nil {
			issued = Issued{Code: rec.Code, ExpiresAt: rec.ExpiresAt, Reused: reused}
			break
		}
		if errors.Is(err, repo.ErrConflict) && attempt < issueRetries {
			// A concurrent request created the record first; the next pass reuses it.
			continue
		}
		return Issued{}, apperr.StorageErr("issue otp", err)
	}

	if g.metrics != nil {
		g.metrics.OTPIssued.WithLabelValues(fmt.Sprint(issued.Reused)).Inc()
	}

	if err := g.sender.SendOTP(ctx, normalized, issued.Code); err != nil {
		g.log.Warn("otp sms delivery failed", "mobile", phone.Mask(normalized), "error", err)
		if g.metrics != nil {
			g.metrics.SMSFailures.Inc()
		}
	}

	return issued, nil
}

// VerifyOTP checks code against the live record for mobile and consumes it
// on success. Each code verifies at most once.
func (g *Gate) VerifyOTP(ctx context.Context, mobile, code string) (err error) {
	defer func() { g.observe(err) }()

	normalized, err := g.normalizer.Normalize(mobile)
	if err != nil {
		return apperr.New(apperr.Validation, err.Error())
	}

	rec, err := g.otps.Get(ctx, normalized)
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.New(apperr.OtpNotFound, "no OTP requested for this number")
	}
	if err != nil {
		return apperr.StorageErr("load otp", err)
	}

	now := g.now()
	if rec.Expired(now) {
		return apperr.New(apperr.OtpExpired, "OTP has expired, request a new one")
	}
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		return g.recordMismatch(ctx, rec, now)
	}

	consumed, err := g.otps.Consume(ctx, normalized, rec.Code, now)
	if err != nil {
		return apperr.StorageErr("consume otp", err)
	}
	if !consumed {
		return apperr.New(apperr.OtpNotFound, "OTP was already used")
	}
	return nil
}

// recordMismatch counts a wrong guess against the live code and burns the
// code once its attempts are used up.
func (g *Gate) recordMismatch(ctx context.Context, rec model.OtpVerification, now time.Time) error {
	key := ratelimit.OTPVerifyKey(rec.Mobile, rec.CreatedAt)
	res := g.limiter.Check(ctx, key, g.cfg.MaxVerifyAttempts, g.cfg.TTL)
	if res.Allowed && res.Remaining > 0 {
		return apperr.New(apperr.OtpMismatch, "incorrect OTP")
	}

	if _, err := g.otps.Consume(ctx, rec.Mobile, rec.Code, now); err != nil {
		return apperr.StorageErr("burn otp", err)
	}
	g.log.Warn("otp burned after repeated mismatches", "mobile", phone.Mask(rec.Mobile))
	return apperr.New(apperr.RateLimited, "too many incorrect attempts, request a new OTP")
}

// Normalize exposes the gate's mobile normalization to callers that key
// records on the same number.
func (g *Gate) Normalize(mobile string) (string, error) {
	return g.normalizer.Normalize(mobile)
}

func (g *Gate) observe(err error) {
	if g.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	g.metrics.OTPVerifications.WithLabelValues(outcome).Inc()
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeLength, n.Int64()), nil
}
