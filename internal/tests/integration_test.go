package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ambassador/referrals/internal/ambassador"
	"github.com/ambassador/referrals/internal/audit"
	"github.com/ambassador/referrals/internal/auth"
	"github.com/ambassador/referrals/internal/benefit"
	"github.com/ambassador/referrals/internal/campus"
	"github.com/ambassador/referrals/internal/config"
	"github.com/ambassador/referrals/internal/db"
	httphandler "github.com/ambassador/referrals/internal/http"
	"github.com/ambassador/referrals/internal/http/handlers"
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

const devCode = "123456"

func TestMain(m *testing.M) {
	// Set env if unset. Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	}
	os.Exit(m.Run())
}

func requireDatabase(t *testing.T) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
}

// testServer holds the server and DB for integration tests
type testServer struct {
	Server      *httptest.Server
	DB          *sql.DB
	Ambassadors repo.AmbassadorRepo
	Campuses    repo.CampusRepo
	Leads       repo.LeadRepo
	OTPs        repo.OtpRepo
	Controller  *lifecycle.Controller
	JWT         *auth.JWTService
	Recorder    *audit.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, RunMigrations(database), "migrations must run successfully")
	require.NoError(t, TruncateTables(ctx, database))

	log := logger.Nop()
	m := metrics.New()

	ambassadors := repo.NewAmbassadorRepo(database)
	leads := repo.NewLeadRepo(database)
	otps := repo.NewOtpRepo(database)
	campuses := repo.NewCampusRepo(database)

	rows, err := repo.NewSlabRepo(database).List(ctx)
	require.NoError(t, err)
	calc, err := benefit.NewCalculator(rows, benefit.DefaultLongTermThreshold)
	require.NoError(t, err)

	normalizer := phone.NewNormalizer("IN")
	limiter := ratelimit.NewLimiter(ratelimit.NewPostgresStore(database), log, m)
	recorder := audit.NewRecorder(audit.NewPostgresSink(database), log)
	gate := otp.NewGate(otps, sms.NewOTPSender(sms.NewLogProvider(log), "REFERL", cfg.OTPTTL), limiter, normalizer, log, m, otp.Config{
		TTL:           cfg.OTPTTL,
		RequestLimit:  3,
		RequestWindow: 10 * time.Minute,
		FixedCode:     devCode,
	})
	jwtService := auth.NewJWTService(cfg.JWTSecret, time.Hour)
	ambassadorService := ambassador.NewService(ambassadors, gate, normalizer, recorder, log)
	registry := referral.NewRegistry(ambassadors, leads, campus.NewResolver(campuses), normalizer, log, m, referral.Options{})
	controller := lifecycle.NewController(repo.NewLeadStore(database), leads, calc, recorder, log, m)

	router := httphandler.NewRouter(httphandler.RouterDeps{
		Health:          handlers.NewHealthHandler(database),
		OTP:             handlers.NewOTPHandler(gate, ambassadorService, jwtService, log, true),
		Ambassadors:     handlers.NewAmbassadorHandler(ambassadorService, registry, jwtService, log),
		Referrals:       handlers.NewReferralHandler(registry, log),
		Leads:           handlers.NewLeadHandler(controller, log),
		Resolver:        auth.NewTokenResolver(jwtService, ambassadors),
		Limiter:         limiter,
		Metrics:         m,
		IPRequestLimit:  1000,
		IPRequestWindow: time.Minute,
	})
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		recorder.Wait()
	})

	return &testServer{
		Server:      server,
		DB:          database,
		Ambassadors: ambassadors,
		Campuses:    campuses,
		Leads:       leads,
		OTPs:        otps,
		Controller:  controller,
		JWT:         jwtService,
		Recorder:    recorder,
	}
}

func (s *testServer) call(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.Server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}
