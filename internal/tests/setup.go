// Package tests holds Postgres-backed integration tests. They skip unless
// DATABASE_URL points at a disposable database.
package tests

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ambassador/referrals/internal/db"
)

// RunMigrations applies the embedded migrations.
func RunMigrations(database *sql.DB) error {
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// TruncateTables empties every table except the slab seed for a clean test state.
func TruncateTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, `
		TRUNCATE TABLE audit_logs, lead_status_history, students, referral_leads,
			ambassadors, campuses, otp_verifications, rate_limits
		RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
