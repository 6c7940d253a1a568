package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/ambassador/referrals/internal/ambassador"
	"github.com/ambassador/referrals/internal/audit"
	"github.com/ambassador/referrals/internal/auth"
	"github.com/ambassador/referrals/internal/benefit"
	"github.com/ambassador/referrals/internal/campus"
	"github.com/ambassador/referrals/internal/config"
	"github.com/ambassador/referrals/internal/db"
	httphandler "github.com/ambassador/referrals/internal/http"
	"github.com/ambassador/referrals/internal/http/handlers"
	"github.com/ambassador/referrals/internal/jobs"
	"github.com/ambassador/referrals/internal/lifecycle"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/metrics"
	"github.com/ambassador/referrals/internal/otp"
	"github.com/ambassador/referrals/internal/phone"
	"github.com/ambassador/referrals/internal/ratelimit"
	"github.com/ambassador/referrals/internal/referral"
	"github.com/ambassador/referrals/internal/repo"
	"github.com/ambassador/referrals/internal/sms"
)

// devOTPCode is the fixed code used when DEV_MODE=true
const devOTPCode = "123456"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env from CWD; real environment variables take precedence
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(cfg.LogLevel)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			AttachStacktrace: true,
		}); err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	log.Info("database connected", "dsn", db.RedactDSN(cfg.DatabaseURL))

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	calc, err := loadCalculator(ctx, repo.NewSlabRepo(database))
	if err != nil {
		return err
	}

	m := metrics.New()

	store, sweepWindows, closeStore, err := rateLimitStore(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer closeStore()
	limiter := ratelimit.NewLimiter(store, log, m)

	// Initialize repositories
	ambassadorRepo := repo.NewAmbassadorRepo(database)
	leadRepo := repo.NewLeadRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	campusRepo := repo.NewCampusRepo(database)

	normalizer := phone.NewNormalizer(cfg.PhoneRegion)
	recorder := audit.NewRecorder(audit.NewPostgresSink(database), log)
	sender := sms.NewOTPSender(sms.NewLogProvider(log), cfg.SMSSenderID, cfg.OTPTTL)

	otpCfg := otp.Config{
		TTL:               cfg.OTPTTL,
		RequestLimit:      cfg.OTPRequestLimit,
		RequestWindow:     cfg.OTPRequestWindow,
		MaxVerifyAttempts: cfg.OTPMaxVerifyAttempts,
	}
	if cfg.DevMode {
		otpCfg.FixedCode = devOTPCode
		log.Warn("dev mode enabled, OTP codes are fixed and echoed in responses")
	}
	gate := otp.NewGate(otpRepo, sender, limiter, normalizer, log, m, otpCfg)

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	ambassadorService := ambassador.NewService(ambassadorRepo, gate, normalizer, recorder, log)
	registry := referral.NewRegistry(ambassadorRepo, leadRepo, campus.NewResolver(campusRepo), normalizer, log, m,
		referral.Options{AllowResubmitRejected: cfg.AllowResubmitRejected})
	controller := lifecycle.NewController(repo.NewLeadStore(database), leadRepo, calc, recorder, log, m)

	router := httphandler.NewRouter(httphandler.RouterDeps{
		Health:          handlers.NewHealthHandler(database),
		OTP:             handlers.NewOTPHandler(gate, ambassadorService, jwtService, log, cfg.DevMode),
		Ambassadors:     handlers.NewAmbassadorHandler(ambassadorService, registry, jwtService, log),
		Referrals:       handlers.NewReferralHandler(registry, log),
		Leads:           handlers.NewLeadHandler(controller, log),
		Resolver:        auth.NewTokenResolver(jwtService, ambassadorRepo),
		Limiter:         limiter,
		Metrics:         m,
		IPRequestLimit:  cfg.IPRequestLimit,
		IPRequestWindow: cfg.IPRequestWindow,
	})

	var cronManager *jobs.CronManager
	if cfg.SweepSchedule != "" {
		tasks := []jobs.SweepTask{{Name: "otp_verifications", Sweep: otpRepo.DeleteExpired}}
		if sweepWindows != nil {
			tasks = append(tasks, jobs.SweepTask{Name: "rate_limits", Sweep: sweepWindows})
		}
		cronManager = jobs.NewCronManager(log, tasks...)
		if err := cronManager.SetupJobs(cfg.SweepSchedule); err != nil {
			return err
		}
		cronManager.Start()
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "rate_limit_backend", cfg.RateLimitBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if cronManager != nil {
		cronManager.Stop()
	}
	recorder.Wait()

	log.Info("server exited")
	return nil
}

// loadCalculator builds the benefit calculator from the slab table, falling
// back to the built-in tiers when the table is empty.
func loadCalculator(ctx context.Context, slabs repo.SlabRepo) (*benefit.Calculator, error) {
	rows, err := slabs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load benefit slabs: %w", err)
	}
	if len(rows) == 0 {
		rows = benefit.DefaultSlabs()
	}
	calc, err := benefit.NewCalculator(rows, benefit.DefaultLongTermThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid benefit slabs: %w", err)
	}
	return calc, nil
}

// rateLimitStore picks the limiter backend. The returned sweep is nil when
// the backend expires windows on its own.
func rateLimitStore(ctx context.Context, cfg *config.Config, database *sql.DB) (ratelimit.Store, jobs.SweepFunc, func(), error) {
	switch cfg.RateLimitBackend {
	case config.BackendRedis:
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return ratelimit.NewRedisStore(client, ""), nil, func() { _ = client.Close() }, nil
	case config.BackendMemory:
		s := ratelimit.NewMemoryStore()
		return s, s.Sweep, func() {}, nil
	default:
		s := ratelimit.NewPostgresStore(database)
		return s, s.Sweep, func() {}, nil
	}
}
