package handlers

import (
	"net/http"

	"github.com/ambassador/referrals/internal/benefit"
	"github.com/ambassador/referrals/internal/lifecycle"
	"github.com/ambassador/referrals/internal/logger"
)

// LeadHandler handles admin lead transitions
type LeadHandler struct {
	controller *lifecycle.Controller
	log        logger.Logger
}

// NewLeadHandler creates a new lead handler
func NewLeadHandler(controller *lifecycle.Controller, log logger.Logger) *LeadHandler {
	return &LeadHandler{controller: controller, log: log}
}

type confirmRequest struct {
	AdmissionNumber string `json:"admission_number"`
}

type benefitResponse struct {
	ConfirmedCount    int    `json:"confirmed_referral_count"`
	BenefitPercent    int    `json:"benefit_percent"`
	LongTermQualified bool   `json:"long_term_qualified"`
	BenefitStatus     string `json:"benefit_status"`
	Tier              string `json:"tier,omitempty"`
}

type transitionResponse struct {
	Success bool             `json:"success"`
	Lead    leadResponse     `json:"lead"`
	Benefit *benefitResponse `json:"benefit,omitempty"`
}

type convertResponse struct {
	Success         bool         `json:"success"`
	StudentID       string       `json:"student_id"`
	ParentID        string       `json:"parent_id"`
	ParentCreated   bool         `json:"parent_created"`
	DiscountPercent int          `json:"discount_percent"`
	Lead            leadResponse `json:"lead"`
}

type leadDetailResponse struct {
	Success bool                   `json:"success"`
	Lead    leadResponse           `json:"lead"`
	History []statusChangeResponse `json:"history"`
}

func toTransitionResponse(out lifecycle.Outcome) transitionResponse {
	resp := transitionResponse{Success: true, Lead: toLeadResponse(out.Lead)}
	if out.Recomputed {
		resp.Benefit = toBenefitResponse(out.Ambassador.ConfirmedCount, out.Benefit, string(out.Ambassador.BenefitStatus))
	}
	return resp
}

func toBenefitResponse(count int, b benefit.Benefit, status string) *benefitResponse {
	return &benefitResponse{
		ConfirmedCount:    count,
		BenefitPercent:    b.Percent,
		LongTermQualified: b.LongTermQualified,
		BenefitStatus:     status,
		Tier:              b.Tier,
	}
}

// HandleGet handles GET /leads/{id}
func (h *LeadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	detail, err := h.controller.Get(r.Context(), actor, id)
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}
	respondWithJSON(w, http.StatusOK, leadDetailResponse{
		Success: true,
		Lead:    toLeadResponse(detail.Lead),
		History: toHistoryResponse(detail.History),
	})
}

// HandleConfirm handles POST /leads/{id}/confirm. The body is optional.
func (h *LeadHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	var req confirmRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	out, err := h.controller.Confirm(r.Context(), actor, id, req.AdmissionNumber)
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransitionResponse(out))
}

// HandleStatus handles POST /leads/{id}/status
func (h *LeadHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	var req lifecycle.TransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	out, err := h.controller.Transition(r.Context(), actor, id, req)
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransitionResponse(out))
}

// HandleConvert handles POST /leads/{id}/convert
func (h *LeadHandler) HandleConvert(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	var req lifecycle.StudentDetails
	if err := decodeOptionalJSON(r, &req); err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	conv, err := h.controller.Convert(r.Context(), actor, id, req)
	if err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, convertResponse{
		Success:         true,
		StudentID:       conv.Student.ID.String(),
		ParentID:        conv.Student.ParentID.String(),
		ParentCreated:   conv.ParentCreated,
		DiscountPercent: conv.Student.DiscountPercent,
		Lead:            toLeadResponse(conv.Lead),
	})
}
