package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/middleware"
	"github.com/ambassador/referrals/internal/model"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every failed request
type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.CampusNotFound:
		return http.StatusBadRequest
	case apperr.OtpMismatch, apperr.OtpExpired, apperr.OtpNotFound:
		return http.StatusUnprocessableEntity
	case apperr.Unauthorized:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.DuplicateAsUser, apperr.DuplicateAsLead, apperr.AlreadyConverted, apperr.InvalidState:
		return http.StatusConflict
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// respondWithJSON writes v with the given status
func respondWithJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, errorResponse{Error: message})
}

// respondWithAppError renders a service error. Storage faults are reported
// to Sentry and never described to the client.
func respondWithAppError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Storage {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		sentry.CaptureException(err)
	}
	respondWithJSON(w, statusFor(kind), errorResponse{
		Error:     apperr.PublicMessage(err),
		ErrorKind: string(kind),
	})
}

// decodeJSON reads a JSON body into v. Unknown fields are ignored.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return apperr.New(apperr.Validation, "request body is required")
	}
	if err != nil {
		return apperr.New(apperr.Validation, "invalid request body")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be absent.
// An empty body, chunked or not, leaves v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.New(apperr.Validation, "invalid request body")
}

// pathID parses a uuid URL parameter
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.Validation, "%s must be a valid id", name)
	}
	return id, nil
}

// requireActor returns the authenticated actor and ambassador
func requireActor(w http.ResponseWriter, r *http.Request) (model.Actor, *model.Ambassador, bool) {
	actor, ok := middleware.GetActor(r.Context())
	amb, ok2 := middleware.GetAmbassador(r.Context())
	if !ok || !ok2 || amb == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return model.Actor{}, nil, false
	}
	return actor, amb, true
}
