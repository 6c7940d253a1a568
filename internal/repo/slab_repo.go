package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ambassador/referrals/internal/model"
)

// SlabRepo reads the benefit tier table
type SlabRepo interface {
	List(ctx context.Context) ([]model.BenefitSlab, error)
}

type slabRepo struct {
	db *sql.DB
}

// NewSlabRepo creates a new SlabRepo instance
func NewSlabRepo(database *sql.DB) SlabRepo {
	return &slabRepo{db: database}
}

// List returns every slab ordered by threshold
func (r *slabRepo) List(ctx context.Context) ([]model.BenefitSlab, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, threshold, year_fee_percent, long_term_extra_percent, base_long_term_percent
		FROM benefit_slabs
		ORDER BY threshold
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query benefit slabs: %w", err)
	}
	defer rows.Close()

	var slabs []model.BenefitSlab
	for rows.Next() {
		var s model.BenefitSlab
		if err := rows.Scan(&s.Name, &s.Threshold, &s.YearFeePercent, &s.LongTermExtraPercent, &s.BaseLongTermPercent); err != nil {
			return nil, fmt.Errorf("failed to scan benefit slab: %w", err)
		}
		slabs = append(slabs, s)
	}
	return slabs, rows.Err()
}
