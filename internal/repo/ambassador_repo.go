package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ambassador/referrals/internal/db"
	"github.com/ambassador/referrals/internal/model"
)

// NewAmbassador holds the fields supplied when an ambassador is created
type NewAmbassador struct {
	Name         string
	Mobile       string
	Role         model.Role
	AdminRole    model.AdminRole
	ReferralCode string
	CampusID     *uuid.UUID
}

// AmbassadorRepo defines the interface for ambassador repository operations
type AmbassadorRepo interface {
	Create(ctx context.Context, a NewAmbassador) (model.Ambassador, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Ambassador, error)
	GetByMobile(ctx context.Context, mobile string) (model.Ambassador, error)
	ExistsByMobile(ctx context.Context, mobile string) (bool, error)
}

type ambassadorRepo struct {
	db *sql.DB
}

// NewAmbassadorRepo creates a new AmbassadorRepo instance
func NewAmbassadorRepo(database *sql.DB) AmbassadorRepo {
	return &ambassadorRepo{db: database}
}

const ambassadorColumns = `
	id, name, mobile, role, admin_role, referral_code, confirmed_referral_count,
	benefit_percent, long_term_qualified, benefit_status, campus_id, created_at`

func scanAmbassador(row rowScanner) (model.Ambassador, error) {
	var a model.Ambassador
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Mobile,
		&a.Role,
		&a.AdminRole,
		&a.ReferralCode,
		&a.ConfirmedCount,
		&a.BenefitPercent,
		&a.LongTermQualified,
		&a.BenefitStatus,
		&a.CampusID,
		&a.CreatedAt,
	)
	return a, err
}

// Create inserts an ambassador. A taken mobile or referral code yields
// ErrDuplicate. The insert uses ON CONFLICT DO NOTHING so a collision inside
// a transaction does not abort it.
func (r *ambassadorRepo) Create(ctx context.Context, a NewAmbassador) (model.Ambassador, error) {
	return createAmbassador(ctx, r.db, a)
}

func createAmbassador(ctx context.Context, q querier, a NewAmbassador) (model.Ambassador, error) {
	if a.AdminRole == "" {
		a.AdminRole = model.AdminNone
	}
	row := q.QueryRowContext(ctx, `
		INSERT INTO ambassadors (name, mobile, role, admin_role, referral_code, campus_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
		RETURNING `+ambassadorColumns,
		a.Name, a.Mobile, a.Role, a.AdminRole, a.ReferralCode, a.CampusID,
	)
	created, err := scanAmbassador(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || db.IsUniqueViolation(err) {
			return model.Ambassador{}, fmt.Errorf("create ambassador: %w", ErrDuplicate)
		}
		return model.Ambassador{}, fmt.Errorf("failed to insert ambassador: %w", err)
	}
	return created, nil
}

// GetByID retrieves an ambassador by ID
func (r *ambassadorRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Ambassador, error) {
	a, err := scanAmbassador(r.db.QueryRowContext(ctx,
		`SELECT `+ambassadorColumns+` FROM ambassadors WHERE id = $1`, id))
	if err != nil {
		return model.Ambassador{}, notFound("ambassador", err)
	}
	return a, nil
}

// GetByMobile retrieves an ambassador by normalized mobile number
func (r *ambassadorRepo) GetByMobile(ctx context.Context, mobile string) (model.Ambassador, error) {
	return ambassadorByMobile(ctx, r.db, mobile)
}

func ambassadorByMobile(ctx context.Context, q querier, mobile string) (model.Ambassador, error) {
	a, err := scanAmbassador(q.QueryRowContext(ctx,
		`SELECT `+ambassadorColumns+` FROM ambassadors WHERE mobile = $1`, mobile))
	if err != nil {
		return model.Ambassador{}, notFound("ambassador", err)
	}
	return a, nil
}

// ExistsByMobile reports whether an ambassador owns the mobile number
func (r *ambassadorRepo) ExistsByMobile(ctx context.Context, mobile string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ambassadors WHERE mobile = $1)`, mobile,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query ambassador: %w", err)
	}
	return exists, nil
}
