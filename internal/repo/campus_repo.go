package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ambassador/referrals/internal/db"
	"github.com/ambassador/referrals/internal/model"
)

// CampusRepo defines the interface for campus repository operations
type CampusRepo interface {
	GetByName(ctx context.Context, name string) (model.Campus, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Campus, error)
	List(ctx context.Context) ([]model.Campus, error)
	// Create inserts a campus; an existing name or normalized name yields ErrDuplicate.
	Create(ctx context.Context, name, normalizedName string) (model.Campus, error)
}

type campusRepo struct {
	db *sql.DB
}

// NewCampusRepo creates a new CampusRepo instance
func NewCampusRepo(database *sql.DB) CampusRepo {
	return &campusRepo{db: database}
}

func scanCampus(row rowScanner) (model.Campus, error) {
	var c model.Campus
	err := row.Scan(&c.ID, &c.Name, &c.NormalizedName, &c.CreatedAt)
	return c, err
}

// GetByName is an exact, case-sensitive match on the canonical name
func (r *campusRepo) GetByName(ctx context.Context, name string) (model.Campus, error) {
	return campusByName(ctx, r.db, name)
}

func campusByName(ctx context.Context, q querier, name string) (model.Campus, error) {
	c, err := scanCampus(q.QueryRowContext(ctx,
		`SELECT id, name, normalized_name, created_at FROM campuses WHERE name = $1`, name))
	if err != nil {
		return model.Campus{}, notFound("campus", err)
	}
	return c, nil
}

// GetByID retrieves a campus by ID
func (r *campusRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Campus, error) {
	return campusByID(ctx, r.db, id)
}

func campusByID(ctx context.Context, q querier, id uuid.UUID) (model.Campus, error) {
	c, err := scanCampus(q.QueryRowContext(ctx,
		`SELECT id, name, normalized_name, created_at FROM campuses WHERE id = $1`, id))
	if err != nil {
		return model.Campus{}, notFound("campus", err)
	}
	return c, nil
}

// List returns all campuses ordered by name
func (r *campusRepo) List(ctx context.Context) ([]model.Campus, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, normalized_name, created_at FROM campuses ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query campuses: %w", err)
	}
	defer rows.Close()

	var campuses []model.Campus
	for rows.Next() {
		c, err := scanCampus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campus: %w", err)
		}
		campuses = append(campuses, c)
	}
	return campuses, rows.Err()
}

// Create implements CampusRepo
func (r *campusRepo) Create(ctx context.Context, name, normalizedName string) (model.Campus, error) {
	c, err := scanCampus(r.db.QueryRowContext(ctx, `
		INSERT INTO campuses (name, normalized_name)
		VALUES ($1, $2)
		RETURNING id, name, normalized_name, created_at
	`, name, normalizedName))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return model.Campus{}, fmt.Errorf("create campus %q: %w", name, ErrDuplicate)
		}
		return model.Campus{}, fmt.Errorf("failed to insert campus: %w", err)
	}
	return c, nil
}
