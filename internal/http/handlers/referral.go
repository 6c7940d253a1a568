package handlers

import (
	"net/http"

	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/referral"
)

// ReferralHandler handles referral submission for the signed-in ambassador
type ReferralHandler struct {
	registry *referral.Registry
	log      logger.Logger
}

// NewReferralHandler creates a new referral handler
func NewReferralHandler(registry *referral.Registry, log logger.Logger) *ReferralHandler {
	return &ReferralHandler{registry: registry, log: log}
}

type submitResponse struct {
	Success bool         `json:"success"`
	LeadID  string       `json:"lead_id"`
	Lead    leadResponse `json:"lead"`
}

type listLeadsResponse struct {
	Success bool           `json:"success"`
	Leads   []leadResponse `json:"leads"`
}

// HandleSubmit handles POST /referrals. The owner is always the caller.
func (h *ReferralHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req referral.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}
	req.AmbassadorID = actor.ID

	lead, err := h.registry.Submit(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, submitResponse{
		Success: true,
		LeadID:  lead.ID.String(),
		Lead:    toLeadResponse(lead),
	})
}

// HandleList handles GET /referrals
func (h *ReferralHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := requireActor(w, r)
	if !ok {
		return
	}

	leads, err := h.registry.List(r.Context(), actor.ID)
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}
	respondWithJSON(w, http.StatusOK, listLeadsResponse{Success: true, Leads: toLeadResponses(leads)})
}
