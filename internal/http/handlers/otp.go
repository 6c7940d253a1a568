package handlers

import (
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/ambassador/referrals/internal/ambassador"
	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/auth"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/otp"
	"github.com/ambassador/referrals/internal/phone"
)

// OTPHandler handles the OTP request and verify endpoints
type OTPHandler struct {
	gate        *otp.Gate
	ambassadors *ambassador.Service
	jwt         *auth.JWTService
	log         logger.Logger
	devMode     bool
}

// NewOTPHandler creates a new OTP handler. In dev mode the live code is
// echoed back in the request response.
func NewOTPHandler(gate *otp.Gate, ambassadors *ambassador.Service, jwtService *auth.JWTService, log logger.Logger, devMode bool) *OTPHandler {
	return &OTPHandler{gate: gate, ambassadors: ambassadors, jwt: jwtService, log: log, devMode: devMode}
}

// requestOTPRequest is the request body for POST /otp/request
type requestOTPRequest struct {
	Mobile  string `json:"mobile"`
	Purpose string `json:"purpose"`
}

// requestOTPResponse is the JSON response for /otp/request
type requestOTPResponse struct {
	Success          bool   `json:"success"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
	DevOTP           string `json:"dev_otp,omitempty"`
}

// verifyOTPRequest is the request body for POST /otp/verify
type verifyOTPRequest struct {
	Mobile string `json:"mobile"`
	OTP    string `json:"otp"`
}

// verifyOTPResponse is the JSON response for /otp/verify. The token is only
// present when the mobile belongs to a registered ambassador.
type verifyOTPResponse struct {
	Success     bool                `json:"success"`
	AccessToken string              `json:"access_token,omitempty"`
	TokenType   string              `json:"token_type,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
	Ambassador  *ambassadorResponse `json:"ambassador,omitempty"`
}

// HandleRequestOTP handles POST /otp/request
func (h *OTPHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	req.Mobile = strings.TrimSpace(req.Mobile)
	if req.Mobile == "" {
		respondWithAppError(w, r, h.log, apperr.New(apperr.Validation, "mobile is required"))
		return
	}
	switch req.Purpose {
	case "":
		req.Purpose = otp.PurposeReferral
	case otp.PurposeReferral, otp.PurposeRegistration:
	default:
		respondWithAppError(w, r, h.log, apperr.Newf(apperr.Validation, "unknown purpose %q", req.Purpose))
		return
	}

	issued, err := h.gate.RequestOTP(r.Context(), req.Mobile, req.Purpose)
	if err != nil {
		h.log.Info("otp request refused", "mobile", phone.Mask(phone.StripNonDigits(req.Mobile)), "kind", apperr.KindOf(err))
		respondWithAppError(w, r, h.log, err)
		return
	}

	response := requestOTPResponse{
		Success:          true,
		ExpiresInSeconds: int(math.Ceil(time.Until(issued.ExpiresAt).Seconds())),
	}
	if response.ExpiresInSeconds < 0 {
		response.ExpiresInSeconds = 0
	}
	if h.devMode {
		response.DevOTP = issued.Code
	}
	respondWithJSON(w, http.StatusOK, response)
}

// HandleVerifyOTP handles POST /otp/verify
func (h *OTPHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	req.Mobile = strings.TrimSpace(req.Mobile)
	req.OTP = strings.TrimSpace(req.OTP)
	if req.Mobile == "" || req.OTP == "" {
		respondWithAppError(w, r, h.log, apperr.New(apperr.Validation, "mobile and otp are required"))
		return
	}

	if err := h.gate.VerifyOTP(r.Context(), req.Mobile, req.OTP); err != nil {
		respondWithAppError(w, r, h.log, err)
		return
	}

	response := verifyOTPResponse{Success: true}

	// Gate.VerifyOTP already normalized successfully, so this cannot fail.
	mobile, _ := h.gate.Normalize(req.Mobile)
	a, err := h.ambassadors.FindByMobile(r.Context(), mobile)
	switch {
	case err == nil:
		token, expiresAt, err := h.jwt.SignAccessToken(a)
		if err != nil {
			respondWithAppError(w, r, h.log, apperr.StorageErr("sign token", err))
			return
		}
		amb := toAmbassadorResponse(a)
		response.AccessToken = token
		response.TokenType = "bearer"
		response.ExpiresAt = &expiresAt
		response.Ambassador = &amb
	case !apperr.IsKind(err, apperr.NotFound):
		// The code is consumed; the caller can log in again later.
		h.log.Warn("ambassador lookup after otp verify failed", "mobile", phone.Mask(mobile), "error", err)
	}

	respondWithJSON(w, http.StatusOK, response)
}
