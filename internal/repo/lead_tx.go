package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ambassador/referrals/internal/db"
	"github.com/ambassador/referrals/internal/model"
)

// NewStudent holds the fields of a student created by conversion
type NewStudent struct {
	StudentName     string
	ParentID        uuid.UUID
	ReferrerID      uuid.UUID
	CampusID        uuid.UUID
	Grade           string
	ReferralLeadID  uuid.UUID
	BaseFee         float64
	DiscountPercent int
}

// AmbassadorBenefit is the aggregate written back after a recount
type AmbassadorBenefit struct {
	ConfirmedCount    int
	BenefitPercent    int
	LongTermQualified bool
	BenefitStatus     model.BenefitStatus
}

// LeadTx is the set of reads and writes a lifecycle change performs inside
// one transaction. Lock* methods take row locks held until commit; callers
// lock the lead before its ambassador.
type LeadTx interface {
	LockLead(ctx context.Context, id uuid.UUID) (model.Lead, error)
	LockAmbassador(ctx context.Context, id uuid.UUID) (model.Ambassador, error)
	// SaveLead writes the lead's mutable fields: status, admission number,
	// confirmed_at, campus_id, student_id and updated_at.
	SaveLead(ctx context.Context, l model.Lead) error
	CountCountedLeads(ctx context.Context, ambassadorID uuid.UUID) (int, error)
	UpdateAmbassadorBenefit(ctx context.Context, id uuid.UUID, b AmbassadorBenefit) error
	RecordStatusChange(ctx context.Context, c model.StatusChange) error
	CampusByID(ctx context.Context, id uuid.UUID) (model.Campus, error)
	CampusByName(ctx context.Context, name string) (model.Campus, error)
	AmbassadorByMobile(ctx context.Context, mobile string) (model.Ambassador, error)
	CreateAmbassador(ctx context.Context, a NewAmbassador) (model.Ambassador, error)
	// CreateStudent yields ErrDuplicate when the lead already has a student.
	CreateStudent(ctx context.Context, s NewStudent) (model.Student, error)
}

// LeadStore runs fn in a transaction. Any error from fn rolls everything back.
type LeadStore interface {
	InLeadTx(ctx context.Context, fn func(tx LeadTx) error) error
}

type leadStore struct {
	db *sql.DB
}

// NewLeadStore creates a Postgres-backed LeadStore
func NewLeadStore(database *sql.DB) LeadStore {
	return &leadStore{db: database}
}

// InLeadTx implements LeadStore
func (s *leadStore) InLeadTx(ctx context.Context, fn func(tx LeadTx) error) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		return fn(&pgLeadTx{tx: tx})
	})
}

type pgLeadTx struct {
	tx *sql.Tx
}

func (t *pgLeadTx) LockLead(ctx context.Context, id uuid.UUID) (model.Lead, error) {
	l, err := scanLead(t.tx.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM referral_leads WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Lead{}, notFound("lead", err)
	}
	return l, nil
}

func (t *pgLeadTx) LockAmbassador(ctx context.Context, id uuid.UUID) (model.Ambassador, error) {
	a, err := scanAmbassador(t.tx.QueryRowContext(ctx,
		`SELECT `+ambassadorColumns+` FROM ambassadors WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Ambassador{}, notFound("ambassador", err)
	}
	return a, nil
}

func (t *pgLeadTx) SaveLead(ctx context.Context, l model.Lead) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE referral_leads
		SET status = $2, admission_number = $3, confirmed_at = $4, campus_id = $5, student_id = $6, updated_at = $7
		WHERE id = $1
	`, l.ID, l.Status, l.AdmissionNumber, l.ConfirmedAt, l.CampusID, l.StudentID, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("update lead: %w", ErrNotFound)
	}
	return nil
}

func (t *pgLeadTx) CountCountedLeads(ctx context.Context, ambassadorID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM referral_leads
		WHERE ambassador_id = $1 AND status IN ($2, $3)
	`, ambassadorID, model.LeadConfirmed, model.LeadAdmitted).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count confirmed leads: %w", err)
	}
	return n, nil
}

func (t *pgLeadTx) UpdateAmbassadorBenefit(ctx context.Context, id uuid.UUID, b AmbassadorBenefit) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE ambassadors
		SET confirmed_referral_count = $2, benefit_percent = $3, long_term_qualified = $4, benefit_status = $5
		WHERE id = $1
	`, id, b.ConfirmedCount, b.BenefitPercent, b.LongTermQualified, b.BenefitStatus)
	if err != nil {
		return fmt.Errorf("update ambassador benefit: %w", err)
	}
	return nil
}

func (t *pgLeadTx) RecordStatusChange(ctx context.Context, c model.StatusChange) error {
	var actor *uuid.UUID
	if c.ActorID != uuid.Nil {
		actor = &c.ActorID
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO lead_status_history (lead_id, actor_id, old_status, new_status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.LeadID, actor, c.OldStatus, c.NewStatus, c.Reason, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}
	return nil
}

func (t *pgLeadTx) CampusByID(ctx context.Context, id uuid.UUID) (model.Campus, error) {
	return campusByID(ctx, t.tx, id)
}

func (t *pgLeadTx) CampusByName(ctx context.Context, name string) (model.Campus, error) {
	return campusByName(ctx, t.tx, name)
}

func (t *pgLeadTx) AmbassadorByMobile(ctx context.Context, mobile string) (model.Ambassador, error) {
	return ambassadorByMobile(ctx, t.tx, mobile)
}

func (t *pgLeadTx) CreateAmbassador(ctx context.Context, a NewAmbassador) (model.Ambassador, error) {
	return createAmbassador(ctx, t.tx, a)
}

func (t *pgLeadTx) CreateStudent(ctx context.Context, s NewStudent) (model.Student, error) {
	var st model.Student
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO students
			(student_name, parent_id, referrer_id, campus_id, grade, referral_lead_id, base_fee, discount_percent, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, student_name, parent_id, referrer_id, campus_id, grade, referral_lead_id,
			base_fee, discount_percent, status, created_at
	`, s.StudentName, s.ParentID, s.ReferrerID, s.CampusID, s.Grade, s.ReferralLeadID,
		s.BaseFee, s.DiscountPercent, model.StudentActive,
	).Scan(
		&st.ID, &st.StudentName, &st.ParentID, &st.ReferrerID, &st.CampusID, &st.Grade, &st.ReferralLeadID,
		&st.BaseFee, &st.DiscountPercent, &st.Status, &st.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, "students_referral_lead_id_key") {
			return model.Student{}, fmt.Errorf("create student: %w", ErrDuplicate)
		}
		return model.Student{}, fmt.Errorf("failed to insert student: %w", err)
	}
	return st, nil
}
