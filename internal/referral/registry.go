// Package referral records ambassador referrals and reports on them.
package referral

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/campus"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/metrics"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/phone"
	"github.com/ambassador/referrals/internal/repo"
	"github.com/ambassador/referrals/internal/validate"
)

// SubmitRequest is a new referral from an ambassador
type SubmitRequest struct {
	AmbassadorID    uuid.UUID `json:"ambassador_id" validate:"required"`
	ParentName      string    `json:"parent_name" validate:"required,max=120"`
	ParentMobile    string    `json:"parent_mobile" validate:"required,max=32"`
	StudentName     string    `json:"student_name" validate:"max=120"`
	Campus          string    `json:"campus" validate:"max=120"`
	GradeInterested string    `json:"grade_interested" validate:"max=32"`
}

// Options tunes duplicate detection
type Options struct {
	// AllowResubmitRejected stops Rejected leads from blocking a new
	// submission for the same mobile.
	AllowResubmitRejected bool
}

// Registry creates and reads referral leads
type Registry struct {
	ambassadors repo.AmbassadorRepo
	leads       repo.LeadRepo
	campuses    *campus.Resolver
	normalizer  *phone.Normalizer
	log         logger.Logger
	metrics     *metrics.Metrics
	opts        Options
}

// NewRegistry creates a Registry. m may be nil.
func NewRegistry(
	ambassadors repo.AmbassadorRepo,
	leads repo.LeadRepo,
	campuses *campus.Resolver,
	normalizer *phone.Normalizer,
	log logger.Logger,
	m *metrics.Metrics,
	opts Options,
) *Registry {
	return &Registry{
		ambassadors: ambassadors,
		leads:       leads,
		campuses:    campuses,
		normalizer:  normalizer,
		log:         log,
		metrics:     m,
		opts:        opts,
	}
}

// Submit validates req and creates a New lead owned by req.AmbassadorID.
// A mobile already registered as an ambassador yields DuplicateAsUser; one
// with a blocking lead yields DuplicateAsLead. Benefits are not touched.
func (r *Registry) Submit(ctx context.Context, req SubmitRequest) (lead model.Lead, err error) {
	defer func() { r.observe(err) }()

	req.ParentName = strings.TrimSpace(req.ParentName)
	req.StudentName = strings.TrimSpace(req.StudentName)
	req.GradeInterested = strings.TrimSpace(req.GradeInterested)
	if err := validate.Struct(req); err != nil {
		return model.Lead{}, err
	}

	mobile, err := r.normalizer.Normalize(req.ParentMobile)
	if err != nil {
		return model.Lead{}, apperr.New(apperr.Validation, err.Error())
	}

	isUser, err := r.ambassadors.ExistsByMobile(ctx, mobile)
	if err != nil {
		return model.Lead{}, apperr.StorageErr("check ambassador mobile", err)
	}
	if isUser {
		return model.Lead{}, apperr.New(apperr.DuplicateAsUser, "this mobile number already belongs to a registered user")
	}

	hasLead, err := r.leads.ExistsForMobile(ctx, mobile, r.opts.AllowResubmitRejected)
	if err != nil {
		return model.Lead{}, apperr.StorageErr("check lead mobile", err)
	}
	if hasLead {
		return model.Lead{}, apperr.New(apperr.DuplicateAsLead, "this mobile number has already been referred")
	}

	// Unresolved campus text is kept as-is; conversion insists on a match.
	var campusID *uuid.UUID
	if req.Campus != "" {
		c, err := r.campuses.Resolve(ctx, req.Campus)
		switch {
		case err == nil:
			campusID = &c.ID
			req.Campus = c.Name
		case !apperr.IsKind(err, apperr.CampusNotFound):
			return model.Lead{}, err
		}
	}

	lead, err = r.leads.Create(ctx, repo.NewLead{
		AmbassadorID:    req.AmbassadorID,
		ParentName:      req.ParentName,
		ParentMobile:    mobile,
		StudentName:     req.StudentName,
		CampusName:      req.Campus,
		CampusID:        campusID,
		GradeInterested: req.GradeInterested,
		IgnoreRejected:  r.opts.AllowResubmitRejected,
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost a race with a concurrent submission for the same mobile.
		return model.Lead{}, apperr.New(apperr.DuplicateAsLead, "this mobile number has already been referred")
	}
	if errors.Is(err, repo.ErrNotFound) {
		return model.Lead{}, apperr.New(apperr.NotFound, "ambassador not found")
	}
	if err != nil {
		return model.Lead{}, apperr.StorageErr("create lead", err)
	}

	r.log.Info("referral submitted",
		"lead_id", lead.ID, "ambassador_id", lead.AmbassadorID, "parent_mobile", phone.Mask(mobile))
	return lead, nil
}

// List returns the ambassador's leads, newest first
func (r *Registry) List(ctx context.Context, ambassadorID uuid.UUID) ([]model.Lead, error) {
	leads, err := r.leads.ListByAmbassador(ctx, ambassadorID)
	if err != nil {
		return nil, apperr.StorageErr("list leads", err)
	}
	return leads, nil
}

// Get returns one lead
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (model.Lead, error) {
	lead, err := r.leads.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Lead{}, apperr.New(apperr.NotFound, "lead not found")
	}
	if err != nil {
		return model.Lead{}, apperr.StorageErr("load lead", err)
	}
	return lead, nil
}

// Stats summarises the ambassador's leads. Confirmed counts both Confirmed
// and Admitted leads; the conversion rate is confirmed over total, in
// percent with one decimal.
func (r *Registry) Stats(ctx context.Context, ambassadorID uuid.UUID) (model.AmbassadorStats, error) {
	if _, err := r.ambassadors.GetByID(ctx, ambassadorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.AmbassadorStats{}, apperr.New(apperr.NotFound, "ambassador not found")
		}
		return model.AmbassadorStats{}, apperr.StorageErr("load ambassador", err)
	}

	counts, err := r.leads.CountByStatus(ctx, ambassadorID)
	if err != nil {
		return model.AmbassadorStats{}, apperr.StorageErr("count leads", err)
	}

	var stats model.AmbassadorStats
	for status, n := range counts {
		stats.TotalReferrals += n
		switch {
		case status.Counted():
			stats.Confirmed += n
		case status == model.LeadRejected:
			stats.Rejected += n
		default:
			stats.Pending += n
		}
	}
	if stats.TotalReferrals > 0 {
		rate := float64(stats.Confirmed) / float64(stats.TotalReferrals) * 100
		stats.ConversionRatePercent = math.Round(rate*10) / 10
	}
	return stats, nil
}

func (r *Registry) observe(err error) {
	if r.metrics == nil {
		return
	}
	outcome := "created"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	r.metrics.ReferralsSubmitted.WithLabelValues(outcome).Inc()
}
