package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ambassador/referrals/internal/model"
)

const defaultAccessTokenTTL = 24 * time.Hour

// JWTClaims represents the access token claims. Authority is re-read from
// the database on every request; the role claims are informational.
type JWTClaims struct {
	AdminRole model.AdminRole `json:"admin_role,omitempty"`
	CampusID  *uuid.UUID      `json:"campus_id,omitempty"`
	jwt.RegisteredClaims
}

// AmbassadorID returns the subject as a UUID
func (c *JWTClaims) AmbassadorID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// JWTService handles JWT token operations
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service. A zero ttl means 24h.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SignAccessToken creates an access token for the ambassador and returns it
// with its expiry.
func (s *JWTService) SignAccessToken(a model.Ambassador) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &JWTClaims{
		AdminRole: a.AdminRole,
		CampusID:  a.CampusID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// VerifyToken verifies and parses a JWT token
func (s *JWTService) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
