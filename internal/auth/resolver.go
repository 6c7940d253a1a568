package auth

import (
	"context"
	"errors"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/repo"
)

// ActorResolver turns a bearer token into the acting ambassador
type ActorResolver interface {
	Resolve(ctx context.Context, token string) (model.Actor, model.Ambassador, error)
}

// TokenResolver verifies the token and reloads the ambassador, so revoked
// admin roles take effect immediately.
type TokenResolver struct {
	jwt         *JWTService
	ambassadors repo.AmbassadorRepo
}

// NewTokenResolver creates a TokenResolver
func NewTokenResolver(jwtService *JWTService, ambassadors repo.AmbassadorRepo) *TokenResolver {
	return &TokenResolver{jwt: jwtService, ambassadors: ambassadors}
}

// Resolve implements ActorResolver
func (r *TokenResolver) Resolve(ctx context.Context, token string) (model.Actor, model.Ambassador, error) {
	claims, err := r.jwt.VerifyToken(token)
	if err != nil {
		return model.Actor{}, model.Ambassador{}, apperr.New(apperr.Unauthorized, "invalid or expired token")
	}
	id, err := claims.AmbassadorID()
	if err != nil {
		return model.Actor{}, model.Ambassador{}, apperr.New(apperr.Unauthorized, "invalid token subject")
	}

	a, err := r.ambassadors.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Actor{}, model.Ambassador{}, apperr.New(apperr.Unauthorized, "ambassador not found")
	}
	if err != nil {
		return model.Actor{}, model.Ambassador{}, apperr.StorageErr("load ambassador", err)
	}
	return ActorFor(a), a, nil
}

// ActorFor builds the actor for an ambassador record
func ActorFor(a model.Ambassador) model.Actor {
	return model.Actor{ID: a.ID, AdminRole: a.AdminRole, CampusID: a.CampusID}
}
