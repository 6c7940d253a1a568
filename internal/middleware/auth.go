package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/auth"
	"github.com/ambassador/referrals/internal/model"
)

type contextKey string

const (
	actorKey      contextKey = "actor"
	ambassadorKey contextKey = "ambassador"
)

// AuthMiddleware validates bearer tokens, loads the ambassador from the
// database and attaches it and its actor to the context
func AuthMiddleware(resolver auth.ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			actor, ambassador, err := resolver.Resolve(r.Context(), tokenString)
			if err != nil {
				if apperr.IsKind(err, apperr.Storage) {
					respondWithError(w, http.StatusServiceUnavailable, apperr.PublicMessage(err))
					return
				}
				respondWithError(w, http.StatusUnauthorized, apperr.PublicMessage(err))
				return
			}

			ctx := WithActor(r.Context(), actor, ambassador)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithActor attaches an authenticated ambassador to ctx
func WithActor(ctx context.Context, actor model.Actor, a model.Ambassador) context.Context {
	ctx = context.WithValue(ctx, actorKey, actor)
	return context.WithValue(ctx, ambassadorKey, &a)
}

// GetActor returns the actor attached by AuthMiddleware
func GetActor(ctx context.Context) (model.Actor, bool) {
	a, ok := ctx.Value(actorKey).(model.Actor)
	return a, ok
}

// GetAmbassador returns the ambassador attached by AuthMiddleware
func GetAmbassador(ctx context.Context) (*model.Ambassador, bool) {
	a, ok := ctx.Value(ambassadorKey).(*model.Ambassador)
	return a, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
