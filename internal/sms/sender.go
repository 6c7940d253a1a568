// Package sms delivers OTP codes. Delivery is decoupled from OTP issuance:
// a failed send never rolls back the stored code.
package sms

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/phone"
)

// ErrEmptyMessage is returned when a provider is asked to send nothing
var ErrEmptyMessage = errors.New("sms body is empty")

// Provider is an SMS gateway
type Provider interface {
	SendSMS(ctx context.Context, to, from, body string) error
}

// Sender delivers OTP codes to a mobile number
type Sender interface {
	SendOTP(ctx context.Context, mobile, code string) error
}

// OTPSender renders the OTP message and hands it to a Provider
type OTPSender struct {
	provider Provider
	from     string
	ttl      time.Duration
}

// NewOTPSender creates a sender. ttl must be the same value the OTP gate
// stores as expiry so the text never promises a longer lifetime.
func NewOTPSender(provider Provider, from string, ttl time.Duration) *OTPSender {
	return &OTPSender{provider: provider, from: from, ttl: ttl}
}

// SendOTP implements Sender
func (s *OTPSender) SendOTP(ctx context.Context, mobile, code string) error {
	if err := s.provider.SendSMS(ctx, mobile, s.from, OTPMessage(code, s.ttl)); err != nil {
		return fmt.Errorf("send otp sms: %w", err)
	}
	return nil
}

// OTPMessage renders the verification text for code valid for ttl.
func OTPMessage(code string, ttl time.Duration) string {
	minutes := int(math.Ceil(ttl.Minutes()))
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("%s is your referral verification code. It is valid for %d %s. Do not share it with anyone.", code, minutes, unit)
}

// LogProvider writes messages to the log instead of a gateway. Used in dev
// mode; the mobile is masked and the body is logged at debug level only.
type LogProvider struct {
	log logger.Logger
}

// NewLogProvider creates a LogProvider
func NewLogProvider(log logger.Logger) *LogProvider {
	return &LogProvider{log: log}
}

// SendSMS implements Provider
func (p *LogProvider) SendSMS(_ context.Context, to, from, body string) error {
	if body == "" {
		return ErrEmptyMessage
	}
	p.log.Info("sms dispatched", "to", phone.Mask(to), "from", from)
	p.log.Debug("sms body", "to", phone.Mask(to), "body", body)
	return nil
}
