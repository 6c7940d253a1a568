package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Rate limit backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string
	DevMode     bool
	LogLevel    string
	SentryDSN   string

	AccessTokenTTL time.Duration

	// OTP gate
	OTPTTL           time.Duration
	OTPRequestLimit  int
	OTPRequestWindow time.Duration
	IPRequestLimit   int
	IPRequestWindow  time.Duration
	PhoneRegion      string
	SMSSenderID      string

	// OTPMaxVerifyAttempts is the number of wrong guesses one code survives.
	OTPMaxVerifyAttempts int

	// Rate limiter storage
	RateLimitBackend string
	RedisURL         string

	// AllowResubmitRejected lets a mobile whose only leads are Rejected be
	// referred again. When false any existing lead blocks resubmission.
	AllowResubmitRejected bool

	// SweepSchedule is a cron spec for deleting expired OTP and rate-limit
	// rows. Empty disables the sweeper.
	SweepSchedule string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 "8080",
		LogLevel:             "info",
		AccessTokenTTL:       24 * time.Hour,
		OTPTTL:               3 * time.Minute,
		OTPRequestLimit:      5,
		OTPRequestWindow:     10 * time.Minute,
		OTPMaxVerifyAttempts: 5,
		IPRequestLimit:       30,
		IPRequestWindow:      10 * time.Minute,
		PhoneRegion:          "IN",
		SMSSenderID:          "REFERL",
		RateLimitBackend:     BackendPostgres,
		SweepSchedule:        "*/15 * * * *",
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if _, err := url.Parse(databaseURL); err != nil {
		return nil, fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	cfg.DatabaseURL = databaseURL

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	cfg.JWTSecret = jwtSecret

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"
	if region := os.Getenv("PHONE_REGION"); region != "" {
		cfg.PhoneRegion = strings.ToUpper(region)
	}
	if sender := os.Getenv("SMS_SENDER_ID"); sender != "" {
		cfg.SMSSenderID = sender
	}
	if spec, ok := os.LookupEnv("SWEEP_SCHEDULE"); ok {
		cfg.SweepSchedule = strings.TrimSpace(spec)
	}

	var err error
	if cfg.AccessTokenTTL, err = durationEnv("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = durationEnv("OTP_TTL", cfg.OTPTTL); err != nil {
		return nil, err
	}
	if cfg.OTPRequestWindow, err = durationEnv("OTP_REQUEST_WINDOW", cfg.OTPRequestWindow); err != nil {
		return nil, err
	}
	if cfg.IPRequestWindow, err = durationEnv("IP_REQUEST_WINDOW", cfg.IPRequestWindow); err != nil {
		return nil, err
	}
	if cfg.OTPRequestLimit, err = intEnv("OTP_REQUEST_LIMIT", cfg.OTPRequestLimit); err != nil {
		return nil, err
	}
	if cfg.OTPMaxVerifyAttempts, err = intEnv("OTP_MAX_VERIFY_ATTEMPTS", cfg.OTPMaxVerifyAttempts); err != nil {
		return nil, err
	}
	if cfg.IPRequestLimit, err = intEnv("IP_REQUEST_LIMIT", cfg.IPRequestLimit); err != nil {
		return nil, err
	}
	if cfg.AllowResubmitRejected, err = boolEnv("ALLOW_RESUBMIT_REJECTED", false); err != nil {
		return nil, err
	}

	if backend := os.Getenv("RATE_LIMIT_BACKEND"); backend != "" {
		cfg.RateLimitBackend = strings.ToLower(backend)
	}
	switch cfg.RateLimitBackend {
	case BackendPostgres, BackendMemory:
	case BackendRedis:
		cfg.RedisURL = os.Getenv("REDIS_URL")
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}

	if cfg.OTPTTL <= 0 {
		return nil, fmt.Errorf("OTP_TTL must be positive")
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
