package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/ratelimit"
)

type stubResolver struct {
	actor model.Actor
	amb   model.Ambassador
	err   error
}

func (s stubResolver) Resolve(_ context.Context, token string) (model.Actor, model.Ambassador, error) {
	if s.err != nil {
		return model.Actor{}, model.Ambassador{}, s.err
	}
	if token != "good" {
		return model.Actor{}, model.Ambassador{}, apperr.New(apperr.Unauthorized, "invalid or expired token")
	}
	return s.actor, s.amb, nil
}

func TestAuthMiddleware(t *testing.T) {
	id := uuid.New()
	resolver := stubResolver{
		actor: model.Actor{ID: id, AdminRole: model.SuperAdmin},
		amb:   model.Ambassador{ID: id, Name: "Asha"},
	}

	var gotActor model.Actor
	var gotName string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor, _ = GetActor(r.Context())
		a, ok := GetAmbassador(r.Context())
		require.True(t, ok)
		gotName = a.Name
		w.WriteHeader(http.StatusNoContent)
	})
	h := AuthMiddleware(resolver)(next)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer  ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"good token", "Bearer good", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, id, gotActor.ID)
	assert.Equal(t, "Asha", gotName)
}

func TestAuthMiddleware_StorageFault(t *testing.T) {
	h := AuthMiddleware(stubResolver{err: apperr.StorageErr("load", errors.New("down"))})(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logger.Nop(), nil)
	h := RateLimitMiddleware(limiter, 2, time.Minute, GetIPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	blocked := do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "192.0.2.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req))
	assert.Equal(t, "ip:203.0.113.5", GetIPKey(req))
}
