package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/benefit"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/metrics"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/phone"
	"github.com/ambassador/referrals/internal/ratelimit"
	"github.com/ambassador/referrals/internal/repo"
	"github.com/ambassador/referrals/internal/repo/memrepo"
)

type sentMessage struct {
	mobile, code string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) SendOTP(_ context.Context, mobile, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{mobile, code})
	return s.err
}

// conflictOnce fails the first IssueOrReuse as if a concurrent insert won.
type conflictOnce struct {
	repo.OtpRepo
	calls int
}

func (c *conflictOnce) IssueOrReuse(ctx context.Context, mobile, code string, expiresAt, now time.Time) (model.OtpVerification, bool, error) {
	c.calls++
	if c.calls == 1 {
		return model.OtpVerification{}, false, repo.ErrConflict
	}
	return c.OtpRepo.IssueOrReuse(ctx, mobile, code, expiresAt, now)
}

type harness struct {
	gate   *Gate
	db     *memrepo.DB
	sender *fakeSender
	now    time.Time
	codes  []string
}

func newHarness(t *testing.T, wrap func(repo.OtpRepo) repo.OtpRepo) *harness {
	t.Helper()
	h := &harness{
		db:     memrepo.New(benefit.DefaultSlabs()),
		sender: &fakeSender{},
		now:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		codes:  []string{"111111", "222222", "333333", "444444"},
	}
	otps := memrepo.NewOtpRepo(h.db)
	if wrap != nil {
		otps = wrap(otps)
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logger.Nop(), nil)
	h.gate = NewGate(otps, h.sender, limiter, phone.NewNormalizer("IN"), logger.Nop(), metrics.New(), Config{
		TTL:           3 * time.Minute,
		RequestLimit:  5,
		RequestWindow: 10 * time.Minute,
	})
	h.gate.now = func() time.Time { return h.now }
	h.gate.newCode = func() (string, error) {
		c := h.codes[0]
		h.codes = h.codes[1:]
		return c, nil
	}
	return h
}

func TestRequestOTP_CreatesRecordAndSends(t *testing.T) {
	h := newHarness(t, nil)

	issued, err := h.gate.RequestOTP(context.Background(), "+91 98765 43210", PurposeReferral)
	require.NoError(t, err)

	assert.Equal(t, "111111", issued.Code)
	assert.False(t, issued.Reused)
	assert.Equal(t, h.now.Add(3*time.Minute), issued.ExpiresAt)
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, sentMessage{"9876543210", "111111"}, h.sender.sent[0])
}

func TestRequestOTP_StickyWithinTTL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
	require.NoError(t, err)

	h.now = h.now.Add(2 * time.Minute)
	second, err := h.gate.RequestOTP(ctx, "+91 9876543210", PurposeReferral)
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt, "reuse must not extend expiry")
	assert.Len(t, h.sender.sent, 2, "the live code is resent")
}

func TestRequestOTP_ReplacesExpiredRecord(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
	require.NoError(t, err)

	h.now = h.now.Add(3*time.Minute + time.Second)
	second, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
	require.NoError(t, err)

	assert.False(t, second.Reused)
	assert.NotEqual(t, first.Code, second.Code)
	assert.Equal(t, h.now.Add(3*time.Minute), second.ExpiresAt)
}

func TestRequestOTP_RateLimited(t *testing.T) {
	h := newHarness(t, nil)
	h.codes = make([]string, 10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
		require.NoError(t, err)
	}
	_, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
	assert.True(t, apperr.IsKind(err, apperr.RateLimited))

	// Other purposes keep their own budget.
	_, err = h.gate.RequestOTP(ctx, "9876543210", PurposeRegistration)
	assert.NoError(t, err)
}

func TestRequestOTP_SMSFailureKeepsRecord(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.err = errors.New("gateway timeout")
	ctx := context.Background()

	issued, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
	require.NoError(t, err)

	require.NoError(t, h.gate.VerifyOTP(ctx, "9876543210", issued.Code))
}

func TestRequestOTP_RetriesOnConflict(t *testing.T) {
	var wrapped *conflictOnce
	h := newHarness(t, func(r repo.OtpRepo) repo.OtpRepo {
		wrapped = &conflictOnce{OtpRepo: r}
		return wrapped
	})

	issued, err := h.gate.RequestOTP(context.Background(), "9876543210", PurposeReferral)
	require.NoError(t, err)
	assert.Equal(t, 2, wrapped.calls)
	assert.Equal(t, "111111", issued.Code)
}

func TestRequestOTP_StorageFailureFailsClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.db.Err = errors.New("connection refused")

	_, err := h.gate.RequestOTP(context.Background(), "9876543210", PurposeReferral)
	assert.True(t, apperr.IsKind(err, apperr.Storage))
	assert.Empty(t, h.sender.sent)
}

func TestRequestOTP_InvalidMobile(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.gate.RequestOTP(context.Background(), "12", PurposeReferral)
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}

func TestVerifyOTP(t *testing.T) {
	ctx := context.Background()

	t.Run("success consumes the code", func(t *testing.T) {
		h := newHarness(t, nil)
		issued, err := h.gate.RequestOTP(ctx, "+91 98765 43210", PurposeReferral)
		require.NoError(t, err)

		require.NoError(t, h.gate.VerifyOTP(ctx, "9876543210", issued.Code))

		err = h.gate.VerifyOTP(ctx, "9876543210", issued.Code)
		assert.True(t, apperr.IsKind(err, apperr.OtpNotFound))
	})

	t.Run("never requested", func(t *testing.T) {
		h := newHarness(t, nil)
		err := h.gate.VerifyOTP(ctx, "9876543210", "123456")
		assert.True(t, apperr.IsKind(err, apperr.OtpNotFound))
	})

	t.Run("mismatch leaves the record usable", func(t *testing.T) {
		h := newHarness(t, nil)
		issued, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
		require.NoError(t, err)

		err = h.gate.VerifyOTP(ctx, "9876543210", "999999")
		assert.True(t, apperr.IsKind(err, apperr.OtpMismatch))
		assert.NoError(t, h.gate.VerifyOTP(ctx, "9876543210", issued.Code))
	})

	t.Run("expired", func(t *testing.T) {
		h := newHarness(t, nil)
		issued, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
		require.NoError(t, err)

		h.now = h.now.Add(3*time.Minute + time.Millisecond)
		err = h.gate.VerifyOTP(ctx, "9876543210", issued.Code)
		assert.True(t, apperr.IsKind(err, apperr.OtpExpired))
	})

	t.Run("valid at the exact expiry instant", func(t *testing.T) {
		h := newHarness(t, nil)
		issued, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
		require.NoError(t, err)

		h.now = issued.ExpiresAt
		assert.NoError(t, h.gate.VerifyOTP(ctx, "9876543210", issued.Code))
	})

	t.Run("storage failure", func(t *testing.T) {
		h := newHarness(t, nil)
		h.db.Err = errors.New("connection refused")
		err := h.gate.VerifyOTP(ctx, "9876543210", "123456")
		assert.True(t, apperr.IsKind(err, apperr.Storage))
	})
}

func TestVerifyOTP_WrongGuessesBurnCode(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	issued, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
	require.NoError(t, err)

	for i := 1; i < DefaultMaxVerifyAttempts; i++ {
		err := h.gate.VerifyOTP(ctx, "+91 98765 43210", "000000")
		require.True(t, apperr.IsKind(err, apperr.OtpMismatch), "attempt %d: %v", i, err)
	}

	err = h.gate.VerifyOTP(ctx, "9876543210", "000000")
	assert.True(t, apperr.IsKind(err, apperr.RateLimited), "%v", err)

	err = h.gate.VerifyOTP(ctx, "9876543210", issued.Code)
	assert.True(t, apperr.IsKind(err, apperr.OtpNotFound), "burned code must not verify: %v", err)

	// A fresh code gets a fresh allowance.
	h.now = h.now.Add(time.Second)
	next, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
	require.NoError(t, err)
	assert.False(t, next.Reused)

	err = h.gate.VerifyOTP(ctx, "9876543210", "000000")
	assert.True(t, apperr.IsKind(err, apperr.OtpMismatch), "%v", err)
	assert.NoError(t, h.gate.VerifyOTP(ctx, "9876543210", next.Code))
}

func TestVerifyOTP_ConcurrentSingleUse(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	issued, err := h.gate.RequestOTP(ctx, "9876543210", PurposeReferral)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- h.gate.VerifyOTP(ctx, "9876543210", issued.Code)
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		assert.True(t, apperr.IsKind(err, apperr.OtpNotFound), err.Error())
	}
	assert.Equal(t, 1, successes)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Len(t, code, codeLength)
	}
}
