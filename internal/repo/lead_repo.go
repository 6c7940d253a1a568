package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ambassador/referrals/internal/db"
	"github.com/ambassador/referrals/internal/model"
)

// NewLead holds the fields supplied when a referral is submitted
type NewLead struct {
	AmbassadorID    uuid.UUID
	ParentName      string
	ParentMobile    string
	StudentName     string
	CampusName      string
	CampusID        *uuid.UUID
	GradeInterested string
	// IgnoreRejected lets Rejected leads for the same parent mobile stay
	// without blocking this one.
	IgnoreRejected bool
}

// LeadRepo defines the interface for referral lead repository operations
type LeadRepo interface {
	// Create yields ErrDuplicate when a blocking lead for the parent mobile
	// already exists. The check and the insert are atomic per mobile.
	Create(ctx context.Context, l NewLead) (model.Lead, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Lead, error)
	ListByAmbassador(ctx context.Context, ambassadorID uuid.UUID) ([]model.Lead, error)
	// ExistsForMobile reports whether a lead with this parent mobile blocks a
	// new submission. With ignoreRejected, Rejected leads do not block.
	ExistsForMobile(ctx context.Context, mobile string, ignoreRejected bool) (bool, error)
	CountByStatus(ctx context.Context, ambassadorID uuid.UUID) (map[model.LeadStatus]int, error)
	History(ctx context.Context, leadID uuid.UUID) ([]model.StatusChange, error)
}

type leadRepo struct {
	db *sql.DB
}

// NewLeadRepo creates a new LeadRepo instance
func NewLeadRepo(database *sql.DB) LeadRepo {
	return &leadRepo{db: database}
}

const leadColumns = `
	id, ambassador_id, parent_name, parent_mobile, student_name, campus_name, campus_id,
	grade_interested, status, admission_number, created_at, updated_at, confirmed_at, student_id`

func scanLead(row rowScanner) (model.Lead, error) {
	var l model.Lead
	err := row.Scan(
		&l.ID,
		&l.AmbassadorID,
		&l.ParentName,
		&l.ParentMobile,
		&l.StudentName,
		&l.CampusName,
		&l.CampusID,
		&l.GradeInterested,
		&l.Status,
		&l.AdmissionNumber,
		&l.CreatedAt,
		&l.UpdatedAt,
		&l.ConfirmedAt,
		&l.StudentID,
	)
	return l, err
}

// Create inserts a lead in status New with a server-assigned creation time.
// An advisory lock on the mobile serializes concurrent submissions so only
// one of them sees no blocking lead.
func (r *leadRepo) Create(ctx context.Context, l NewLead) (model.Lead, error) {
	var created model.Lead
	err := db.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, l.ParentMobile); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		exists, err := leadExistsForMobile(ctx, tx, l.ParentMobile, l.IgnoreRejected)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("create lead: %w", ErrDuplicate)
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO referral_leads
				(ambassador_id, parent_name, parent_mobile, student_name, campus_name, campus_id, grade_interested, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+leadColumns,
			l.AmbassadorID, l.ParentName, l.ParentMobile, l.StudentName, l.CampusName, l.CampusID, l.GradeInterested, model.LeadNew,
		)
		created, err = scanLead(row)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return fmt.Errorf("create lead: ambassador: %w", ErrNotFound)
			}
			return fmt.Errorf("failed to insert lead: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Lead{}, err
	}
	return created, nil
}

// GetByID retrieves a lead by ID
func (r *leadRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM referral_leads WHERE id = $1`, id))
	if err != nil {
		return model.Lead{}, notFound("lead", err)
	}
	return l, nil
}

// ListByAmbassador returns the ambassador's leads, newest first
func (r *leadRepo) ListByAmbassador(ctx context.Context, ambassadorID uuid.UUID) ([]model.Lead, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM referral_leads WHERE ambassador_id = $1 ORDER BY created_at DESC`,
		ambassadorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}

// ExistsForMobile implements LeadRepo
func (r *leadRepo) ExistsForMobile(ctx context.Context, mobile string, ignoreRejected bool) (bool, error) {
	return leadExistsForMobile(ctx, r.db, mobile, ignoreRejected)
}

func leadExistsForMobile(ctx context.Context, q querier, mobile string, ignoreRejected bool) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM referral_leads WHERE parent_mobile = $1)`
	args := []any{mobile}
	if ignoreRejected {
		query = `SELECT EXISTS (SELECT 1 FROM referral_leads WHERE parent_mobile = $1 AND status <> $2)`
		args = append(args, model.LeadRejected)
	}

	var exists bool
	if err := q.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query leads by mobile: %w", err)
	}
	return exists, nil
}

// CountByStatus groups the ambassador's leads by status
func (r *leadRepo) CountByStatus(ctx context.Context, ambassadorID uuid.UUID) (map[model.LeadStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM referral_leads
		WHERE ambassador_id = $1
		GROUP BY status
	`, ambassadorID)
	if err != nil {
		return nil, fmt.Errorf("failed to count leads: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status model.LeadStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan lead count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// History returns the lead's status changes, oldest first
func (r *leadRepo) History(ctx context.Context, leadID uuid.UUID) ([]model.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lead_id, COALESCE(actor_id, '00000000-0000-0000-0000-000000000000'), old_status, new_status, reason, created_at
		FROM lead_status_history
		WHERE lead_id = $1
		ORDER BY created_at, id
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lead history: %w", err)
	}
	defer rows.Close()

	var changes []model.StatusChange
	for rows.Next() {
		var c model.StatusChange
		if err := rows.Scan(&c.LeadID, &c.ActorID, &c.OldStatus, &c.NewStatus, &c.Reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lead history: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
