package handlers

import (
	"net/http"

	"github.com/ambassador/referrals/internal/ambassador"
	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/auth"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/referral"
)

// AmbassadorHandler handles registration and ambassador reads
type AmbassadorHandler struct {
	service  *ambassador.Service
	registry *referral.Registry
	jwt      *auth.JWTService
	log      logger.Logger
}

// NewAmbassadorHandler creates a new ambassador handler
func NewAmbassadorHandler(service *ambassador.Service, registry *referral.Registry, jwtService *auth.JWTService, log logger.Logger) *AmbassadorHandler {
	return &AmbassadorHandler{service: service, registry: registry, jwt: jwtService, log: log}
}

type registerResponse struct {
	Success     bool               `json:"success"`
	AccessToken string             `json:"access_token"`
	TokenType   string             `json:"token_type"`
	Ambassador  ambassadorResponse `json:"ambassador"`
}

type statsResponse struct {
	Success    bool                  `json:"success"`
	Stats      model.AmbassadorStats `json:"stats"`
	Ambassador ambassadorResponse    `json:"ambassador"`
}

// HandleRegister handles POST /ambassadors/register
func (h *AmbassadorHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req ambassador.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	a, err := h.service.Register(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	token, _, err := h.jwt.SignAccessToken(a)
	if err != nil {
		respondWithAppError(w, r, h.log, apperr.StorageErr("sign token", err))
		return
	}

	respondWithJSON(w, http.StatusCreated, registerResponse{
		Success:     true,
		AccessToken: token,
		TokenType:   "bearer",
		Ambassador:  toAmbassadorResponse(a),
	})
}

// HandleMe handles GET /me (protected). Returns the authenticated ambassador.
func (h *AmbassadorHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	_, amb, ok := requireActor(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, toAmbassadorResponse(*amb))
}

// HandleStats handles GET /ambassadors/{id}/stats. Ambassadors may read
// their own stats; admins may read anyone's.
func (h *AmbassadorHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}
	if id != actor.ID && !actor.IsAdmin() {
		respondWithAppError(w, r, h.log, apperr.New(apperr.Unauthorized, "not allowed to view this ambassador"))
		return
	}

	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}
	stats, err := h.registry.Stats(r.Context(), id)
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusOK, statsResponse{
		Success:    true,
		Stats:      stats,
		Ambassador: toAmbassadorResponse(a),
	})
}
