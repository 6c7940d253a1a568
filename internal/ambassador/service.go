// Package ambassador registers referrers after OTP verification.
package ambassador

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/audit"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/phone"
	"github.com/ambassador/referrals/internal/repo"
	"github.com/ambassador/referrals/internal/validate"
)

const createRetries = 5

// OTPVerifier consumes a one-time code for a mobile
type OTPVerifier interface {
	VerifyOTP(ctx context.Context, mobile, code string) error
}

// RegisterRequest is a self-service ambassador sign-up
type RegisterRequest struct {
	Name   string `json:"name" validate:"required,max=120"`
	Mobile string `json:"mobile" validate:"required,max=32"`
	Role   string `json:"role" validate:"required,role"`
	OTP    string `json:"otp" validate:"required,len=6,numeric"`
}

// Service manages ambassador accounts
type Service struct {
	ambassadors repo.AmbassadorRepo
	otp         OTPVerifier
	normalizer  *phone.Normalizer
	audit       *audit.Recorder
	log         logger.Logger
}

// NewService creates a Service
func NewService(ambassadors repo.AmbassadorRepo, otp OTPVerifier, normalizer *phone.Normalizer, rec *audit.Recorder, log logger.Logger) *Service {
	return &Service{ambassadors: ambassadors, otp: otp, normalizer: normalizer, audit: rec, log: log}
}

// Register verifies the OTP sent to req.Mobile and creates the ambassador
// with a fresh referral code. A registered mobile yields DuplicateAsUser
// without consuming the OTP.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (model.Ambassador, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.OTP = strings.TrimSpace(req.OTP)
	if err := validate.Struct(req); err != nil {
		return model.Ambassador{}, err
	}

	mobile, err := s.normalizer.Normalize(req.Mobile)
	if err != nil {
		return model.Ambassador{}, apperr.New(apperr.Validation, err.Error())
	}

	exists, err := s.ambassadors.ExistsByMobile(ctx, mobile)
	if err != nil {
		return model.Ambassador{}, apperr.StorageErr("check ambassador mobile", err)
	}
	if exists {
		return model.Ambassador{}, apperr.New(apperr.DuplicateAsUser, "this mobile number is already registered")
	}

	if err := s.otp.VerifyOTP(ctx, mobile, req.OTP); err != nil {
		return model.Ambassador{}, err
	}

	a, err := CreateWithCode(ctx, s.ambassadors.Create, s.ambassadors.ExistsByMobile, repo.NewAmbassador{
		Name:   req.Name,
		Mobile: mobile,
		Role:   model.Role(req.Role),
	})
	if err != nil {
		return model.Ambassador{}, err
	}

	s.log.Info("ambassador registered", "ambassador_id", a.ID, "mobile", phone.Mask(mobile), "role", a.Role)
	if s.audit != nil {
		s.audit.Record(audit.Entry{
			Action:      audit.ActionAmbassadorCreated,
			Module:      audit.ModuleAmbassadors,
			Description: "ambassador self-registered",
			TargetID:    a.ID.String(),
			ActorID:     a.ID.String(),
			Metadata:    map[string]any{"role": a.Role, "referral_code": a.ReferralCode},
		})
	}
	return a, nil
}

// Get returns an ambassador by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Ambassador, error) {
	a, err := s.ambassadors.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Ambassador{}, apperr.New(apperr.NotFound, "ambassador not found")
	}
	if err != nil {
		return model.Ambassador{}, apperr.StorageErr("load ambassador", err)
	}
	return a, nil
}

// FindByMobile returns the ambassador owning an already-normalized mobile,
// or NotFound.
func (s *Service) FindByMobile(ctx context.Context, mobile string) (model.Ambassador, error) {
	a, err := s.ambassadors.GetByMobile(ctx, mobile)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Ambassador{}, apperr.New(apperr.NotFound, "ambassador not found")
	}
	if err != nil {
		return model.Ambassador{}, apperr.StorageErr("load ambassador", err)
	}
	return a, nil
}

// CreateWithCode inserts a with a generated referral code, regenerating the
// code when it collides. A mobile collision yields DuplicateAsUser.
func CreateWithCode(
	ctx context.Context,
	create func(context.Context, repo.NewAmbassador) (model.Ambassador, error),
	mobileTaken func(context.Context, string) (bool, error),
	a repo.NewAmbassador,
) (model.Ambassador, error) {
	for attempt := 0; attempt < createRetries; attempt++ {
		code, err := NewReferralCode()
		if err != nil {
			return model.Ambassador{}, apperr.StorageErr("create ambassador", err)
		}
		a.ReferralCode = code

		created, err := create(ctx, a)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return model.Ambassador{}, apperr.StorageErr("create ambassador", err)
		}
		taken, err := mobileTaken(ctx, a.Mobile)
		if err != nil {
			return model.Ambassador{}, apperr.StorageErr("create ambassador", err)
		}
		if taken {
			return model.Ambassador{}, apperr.New(apperr.DuplicateAsUser, "this mobile number is already registered")
		}
	}
	return model.Ambassador{}, apperr.New(apperr.Storage, "could not allocate a unique referral code")
}
