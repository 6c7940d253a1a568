// Package lifecycle moves referral leads through the pipeline and keeps each
// ambassador's confirmed count and benefit tier consistent with the leads.
//
// Every status write, recount and benefit update for one lead happens in a
// single transaction that locks the lead and then its ambassador. The count
// is always recomputed from the lead table, never incremented, so a drifted
// aggregate heals on the next transition. Storage failures abort the whole
// unit (fail closed).
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ambassador/referrals/internal/ambassador"
	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/audit"
	"github.com/ambassador/referrals/internal/benefit"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/metrics"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/repo"
	"github.com/ambassador/referrals/internal/validate"
)

// TransitionRequest moves a lead to Status
type TransitionRequest struct {
	Status          model.LeadStatus `json:"status" validate:"required,leadstatus"`
	AdmissionNumber string           `json:"admission_number" validate:"max=64"`
	Reason          string           `json:"reason" validate:"max=500"`
}

// StudentDetails completes a conversion. Empty fields fall back to the lead.
type StudentDetails struct {
	StudentName string  `json:"student_name" validate:"max=120"`
	ParentName  string  `json:"parent_name" validate:"max=120"`
	Grade       string  `json:"grade" validate:"max=32"`
	BaseFee     float64 `json:"base_fee" validate:"gte=0"`
	// Force lets a SuperAdmin convert a lead that is not yet Confirmed.
	Force bool `json:"force"`
}

// Outcome is the state after a transition commits
type Outcome struct {
	Lead       model.Lead
	Ambassador model.Ambassador
	Benefit    benefit.Benefit
	// Recomputed reports whether the ambassador aggregate was rewritten.
	Recomputed bool
}

// Conversion is the result of converting a lead
type Conversion struct {
	Student       model.Student
	Lead          model.Lead
	Referrer      model.Ambassador
	ParentCreated bool
}

// LeadDetail is a lead with its status history
type LeadDetail struct {
	Lead    model.Lead
	History []model.StatusChange
}

// Controller drives lead transitions
type Controller struct {
	store   repo.LeadStore
	leads   repo.LeadRepo
	calc    *benefit.Calculator
	audit   *audit.Recorder
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewController creates a Controller. rec and m may be nil.
func NewController(
	store repo.LeadStore,
	leads repo.LeadRepo,
	calc *benefit.Calculator,
	rec *audit.Recorder,
	log logger.Logger,
	m *metrics.Metrics,
) *Controller {
	return &Controller{
		store:   store,
		leads:   leads,
		calc:    calc,
		audit:   rec,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Authorize reports whether actor may act on lead. SuperAdmins may act on
// any lead; CampusAdmins only on leads whose canonical campus is their own.
func Authorize(actor model.Actor, lead model.Lead) error {
	switch actor.AdminRole {
	case model.SuperAdmin:
		return nil
	case model.CampusAdmin:
		if actor.CampusID != nil && lead.CampusID != nil && *actor.CampusID == *lead.CampusID {
			return nil
		}
		return apperr.New(apperr.Unauthorized, "lead belongs to another campus")
	default:
		return apperr.New(apperr.Unauthorized, "admin role required")
	}
}

// Transition moves the lead to req.Status. There is no transition table, with
// two exceptions: Admitted is reachable only from Confirmed, and a converted
// lead cannot leave Admitted. Re-applying the current status changes nothing
// except that a counted lead still triggers a recount.
func (c *Controller) Transition(ctx context.Context, actor model.Actor, leadID uuid.UUID, req TransitionRequest) (Outcome, error) {
	req.AdmissionNumber = strings.TrimSpace(req.AdmissionNumber)
	if err := validate.Struct(req); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	var old model.LeadStatus
	err := c.store.InLeadTx(ctx, func(tx repo.LeadTx) error {
		lead, err := c.lockLead(ctx, tx, actor, leadID)
		if err != nil {
			return err
		}
		old = lead.Status

		if lead.StudentID != nil && req.Status != model.LeadAdmitted {
			return apperr.New(apperr.InvalidState, "a converted lead cannot leave Admitted")
		}
		if req.Status == model.LeadAdmitted && old != model.LeadConfirmed && old != model.LeadAdmitted {
			return apperr.Newf(apperr.InvalidState, "only a Confirmed lead can be admitted, lead is %s", old)
		}

		now := c.now().UTC()
		changed := old != req.Status
		if changed {
			setStatus(&lead, req.Status, now)
		}
		if req.AdmissionNumber != "" {
			lead.AdmissionNumber = &req.AdmissionNumber
			lead.UpdatedAt = now
			changed = true
		}
		if changed {
			if err := tx.SaveLead(ctx, lead); err != nil {
				return apperr.StorageErr("update lead", err)
			}
		}
		if old != req.Status {
			if err := tx.RecordStatusChange(ctx, model.StatusChange{
				LeadID:    lead.ID,
				ActorID:   actor.ID,
				OldStatus: old,
				NewStatus: req.Status,
				Reason:    req.Reason,
				CreatedAt: now,
			}); err != nil {
				return apperr.StorageErr("record status change", err)
			}
		}
		out.Lead = lead

		if old.Counted() || req.Status.Counted() {
			out.Ambassador, out.Benefit, err = c.recompute(ctx, tx, lead.AmbassadorID)
			if err != nil {
				return err
			}
			out.Recomputed = true
		}
		return nil
	})
	if err != nil {
		return Outcome{}, storageIfUntyped("transition lead", err)
	}

	if old != req.Status {
		c.afterTransition(actor, out, old)
	}
	return out, nil
}

// Confirm moves the lead to Confirmed, optionally recording an admission number.
func (c *Controller) Confirm(ctx context.Context, actor model.Actor, leadID uuid.UUID, admissionNumber string) (Outcome, error) {
	return c.Transition(ctx, actor, leadID, TransitionRequest{
		Status:          model.LeadConfirmed,
		AdmissionNumber: admissionNumber,
	})
}

// Convert creates the Student for a Confirmed lead and moves the lead to
// Admitted. The parent is found by mobile or created as a Parent
// ambassador. The student's discount is the referrer's benefit percent at
// this moment and never follows later changes. A lead converts at most once.
func (c *Controller) Convert(ctx context.Context, actor model.Actor, leadID uuid.UUID, details StudentDetails) (Conversion, error) {
	if err := validate.Struct(details); err != nil {
		return Conversion{}, err
	}
	if details.Force && actor.AdminRole != model.SuperAdmin {
		return Conversion{}, apperr.New(apperr.Unauthorized, "only a super admin can force a conversion")
	}

	var out Conversion
	var old model.LeadStatus
	err := c.store.InLeadTx(ctx, func(tx repo.LeadTx) error {
		lead, err := c.lockLead(ctx, tx, actor, leadID)
		if err != nil {
			return err
		}
		old = lead.Status

		if lead.StudentID != nil {
			return apperr.New(apperr.AlreadyConverted, "lead has already been converted")
		}
		if !lead.Status.Counted() && !details.Force {
			return apperr.Newf(apperr.InvalidState, "only a Confirmed lead can be converted, lead is %s", lead.Status)
		}

		campus, err := resolveLeadCampus(ctx, tx, lead)
		if err != nil {
			return err
		}

		now := c.now().UTC()
		setStatus(&lead, model.LeadAdmitted, now)
		if err := tx.SaveLead(ctx, lead); err != nil {
			return apperr.StorageErr("update lead", err)
		}

		referrer, _, err := c.recompute(ctx, tx, lead.AmbassadorID)
		if err != nil {
			return err
		}

		parent, created, err := resolveParent(ctx, tx, lead, details, campus.ID)
		if err != nil {
			return err
		}

		student, err := tx.CreateStudent(ctx, repo.NewStudent{
			StudentName:     firstNonEmpty(details.StudentName, lead.StudentName, "Unnamed student"),
			ParentID:        parent.ID,
			ReferrerID:      referrer.ID,
			CampusID:        campus.ID,
			Grade:           firstNonEmpty(details.Grade, lead.GradeInterested),
			ReferralLeadID:  lead.ID,
			BaseFee:         details.BaseFee,
			DiscountPercent: referrer.BenefitPercent,
		})
		if errors.Is(err, repo.ErrDuplicate) {
			return apperr.New(apperr.AlreadyConverted, "lead has already been converted")
		}
		if err != nil {
			return apperr.StorageErr("create student", err)
		}

		lead.StudentID = &student.ID
		if lead.CampusID == nil {
			lead.CampusID = &campus.ID
		}
		if err := tx.SaveLead(ctx, lead); err != nil {
			return apperr.StorageErr("link student", err)
		}
		if err := tx.RecordStatusChange(ctx, model.StatusChange{
			LeadID:    lead.ID,
			ActorID:   actor.ID,
			OldStatus: old,
			NewStatus: model.LeadAdmitted,
			Reason:    "converted to student",
			CreatedAt: now,
		}); err != nil {
			return apperr.StorageErr("record status change", err)
		}

		out = Conversion{Student: student, Lead: lead, Referrer: referrer, ParentCreated: created}
		return nil
	})
	if err != nil {
		return Conversion{}, storageIfUntyped("convert lead", err)
	}

	c.log.Info("lead converted",
		"lead_id", out.Lead.ID, "student_id", out.Student.ID, "discount_percent", out.Student.DiscountPercent)
	if c.metrics != nil {
		c.metrics.Conversions.Inc()
		if old != model.LeadAdmitted {
			c.metrics.LeadTransitions.WithLabelValues(string(model.LeadAdmitted)).Inc()
		}
	}
	if c.audit != nil {
		c.audit.Record(audit.Entry{
			Action:      audit.ActionLeadConverted,
			Module:      audit.ModuleLeads,
			Description: fmt.Sprintf("lead converted to student %s", out.Student.ID),
			TargetID:    out.Lead.ID.String(),
			ActorID:     actor.ID.String(),
			Metadata: map[string]any{
				"student_id":       out.Student.ID.String(),
				"discount_percent": out.Student.DiscountPercent,
				"parent_created":   out.ParentCreated,
				"forced":           details.Force,
			},
		})
	}
	return out, nil
}

// Get returns a lead and its history if actor may act on it
func (c *Controller) Get(ctx context.Context, actor model.Actor, leadID uuid.UUID) (LeadDetail, error) {
	lead, err := c.leads.GetByID(ctx, leadID)
	if errors.Is(err, repo.ErrNotFound) {
		return LeadDetail{}, apperr.New(apperr.NotFound, "lead not found")
	}
	if err != nil {
		return LeadDetail{}, apperr.StorageErr("load lead", err)
	}
	if err := Authorize(actor, lead); err != nil {
		return LeadDetail{}, err
	}
	history, err := c.leads.History(ctx, leadID)
	if err != nil {
		return LeadDetail{}, apperr.StorageErr("load lead history", err)
	}
	return LeadDetail{Lead: lead, History: history}, nil
}

func (c *Controller) lockLead(ctx context.Context, tx repo.LeadTx, actor model.Actor, id uuid.UUID) (model.Lead, error) {
	if !actor.IsAdmin() {
		return model.Lead{}, apperr.New(apperr.Unauthorized, "admin role required")
	}
	lead, err := tx.LockLead(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Lead{}, apperr.New(apperr.NotFound, "lead not found")
	}
	if err != nil {
		return model.Lead{}, apperr.StorageErr("lock lead", err)
	}
	if err := Authorize(actor, lead); err != nil {
		return model.Lead{}, err
	}
	return lead, nil
}

// recompute locks the ambassador, recounts its counted leads and writes the
// resulting tier back.
func (c *Controller) recompute(ctx context.Context, tx repo.LeadTx, ambassadorID uuid.UUID) (model.Ambassador, benefit.Benefit, error) {
	a, err := tx.LockAmbassador(ctx, ambassadorID)
	if err != nil {
		return model.Ambassador{}, benefit.Benefit{}, apperr.StorageErr("lock ambassador", err)
	}
	n, err := tx.CountCountedLeads(ctx, ambassadorID)
	if err != nil {
		return model.Ambassador{}, benefit.Benefit{}, apperr.StorageErr("count confirmed leads", err)
	}

	b := c.calc.Compute(n)
	agg := repo.AmbassadorBenefit{
		ConfirmedCount:    n,
		BenefitPercent:    b.Percent,
		LongTermQualified: b.LongTermQualified,
		BenefitStatus:     model.BenefitStatusFor(n),
	}
	if err := tx.UpdateAmbassadorBenefit(ctx, ambassadorID, agg); err != nil {
		return model.Ambassador{}, benefit.Benefit{}, apperr.StorageErr("update ambassador benefit", err)
	}

	if a.ConfirmedCount != n {
		c.log.Debug("ambassador aggregate recomputed", "ambassador_id", ambassadorID, "from", a.ConfirmedCount, "to", n)
	}
	a.ConfirmedCount = agg.ConfirmedCount
	a.BenefitPercent = agg.BenefitPercent
	a.LongTermQualified = agg.LongTermQualified
	a.BenefitStatus = agg.BenefitStatus
	return a, b, nil
}

func (c *Controller) afterTransition(actor model.Actor, out Outcome, old model.LeadStatus) {
	c.log.Info("lead status changed",
		"lead_id", out.Lead.ID, "from", old, "to", out.Lead.Status, "actor_id", actor.ID)
	if c.metrics != nil {
		c.metrics.LeadTransitions.WithLabelValues(string(out.Lead.Status)).Inc()
	}
	if c.audit == nil {
		return
	}
	meta := map[string]any{"from": old, "to": out.Lead.Status}
	if out.Recomputed {
		meta["confirmed_count"] = out.Ambassador.ConfirmedCount
		meta["benefit_percent"] = out.Ambassador.BenefitPercent
	}
	c.audit.Record(audit.Entry{
		Action:      audit.ActionLeadStatusChanged,
		Module:      audit.ModuleLeads,
		Description: fmt.Sprintf("lead moved from %s to %s", old, out.Lead.Status),
		TargetID:    out.Lead.ID.String(),
		ActorID:     actor.ID.String(),
		Metadata:    meta,
	})
}

// setStatus applies a status and keeps confirmed_at in step with it: set on
// entering the counted set, kept while inside it, cleared on leaving it.
func setStatus(lead *model.Lead, status model.LeadStatus, now time.Time) {
	switch {
	case status.Counted() && lead.ConfirmedAt == nil:
		lead.ConfirmedAt = &now
	case !status.Counted():
		lead.ConfirmedAt = nil
	}
	lead.Status = status
	lead.UpdatedAt = now
}

// resolveLeadCampus prefers the stored canonical id and falls back to an
// exact match on the free-text name.
func resolveLeadCampus(ctx context.Context, tx repo.LeadTx, lead model.Lead) (model.Campus, error) {
	if lead.CampusID != nil {
		c, err := tx.CampusByID(ctx, *lead.CampusID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return model.Campus{}, apperr.StorageErr("load campus", err)
		}
	}
	if lead.CampusName != "" {
		c, err := tx.CampusByName(ctx, lead.CampusName)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return model.Campus{}, apperr.StorageErr("load campus", err)
		}
	}
	return model.Campus{}, apperr.Newf(apperr.CampusNotFound, "campus %q does not match a known campus", lead.CampusName)
}

func resolveParent(ctx context.Context, tx repo.LeadTx, lead model.Lead, details StudentDetails, campusID uuid.UUID) (model.Ambassador, bool, error) {
	parent, err := tx.AmbassadorByMobile(ctx, lead.ParentMobile)
	if err == nil {
		return parent, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.Ambassador{}, false, apperr.StorageErr("load parent", err)
	}

	mobileTaken := func(ctx context.Context, mobile string) (bool, error) {
		_, err := tx.AmbassadorByMobile(ctx, mobile)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	parent, err = ambassador.CreateWithCode(ctx, tx.CreateAmbassador, mobileTaken, repo.NewAmbassador{
		Name:     firstNonEmpty(details.ParentName, lead.ParentName),
		Mobile:   lead.ParentMobile,
		Role:     model.RoleParent,
		CampusID: &campusID,
	})
	if apperr.IsKind(err, apperr.DuplicateAsUser) {
		// Registered concurrently; use that account.
		parent, err = tx.AmbassadorByMobile(ctx, lead.ParentMobile)
		if err != nil {
			return model.Ambassador{}, false, apperr.StorageErr("load parent", err)
		}
		return parent, false, nil
	}
	if err != nil {
		return model.Ambassador{}, false, err
	}
	return parent, true, nil
}

func storageIfUntyped(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.StorageErr(op, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
