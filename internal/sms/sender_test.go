package sms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambassador/referrals/internal/logger"
)

type recordingProvider struct {
	to, from, body string
	err            error
}

func (p *recordingProvider) SendSMS(_ context.Context, to, from, body string) error {
	p.to, p.from, p.body = to, from, body
	return p.err
}

func TestOTPMessage_UsesTTL(t *testing.T) {
	assert.Contains(t, OTPMessage("123456", 3*time.Minute), "valid for 3 minutes")
	assert.Contains(t, OTPMessage("123456", time.Minute), "valid for 1 minute.")
	assert.Contains(t, OTPMessage("123456", 90*time.Second), "valid for 2 minutes")
	assert.Contains(t, OTPMessage("654321", 3*time.Minute), "654321")
}

func TestOTPSender_SendOTP(t *testing.T) {
	p := &recordingProvider{}
	s := NewOTPSender(p, "REFERL", 3*time.Minute)

	require.NoError(t, s.SendOTP(context.Background(), "9876543210", "111222"))
	assert.Equal(t, "9876543210", p.to)
	assert.Equal(t, "REFERL", p.from)
	assert.Equal(t, OTPMessage("111222", 3*time.Minute), p.body)
}

func TestOTPSender_ProviderError(t *testing.T) {
	gatewayDown := errors.New("gateway down")
	s := NewOTPSender(&recordingProvider{err: gatewayDown}, "REFERL", time.Minute)

	err := s.SendOTP(context.Background(), "9876543210", "111222")
	assert.ErrorIs(t, err, gatewayDown)
}

func TestLogProvider_RejectsEmptyBody(t *testing.T) {
	p := NewLogProvider(logger.Nop())
	assert.ErrorIs(t, p.SendSMS(context.Background(), "9876543210", "X", ""), ErrEmptyMessage)
	assert.NoError(t, p.SendSMS(context.Background(), "9876543210", "X", "hi"))
}
