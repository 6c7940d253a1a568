package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ambassador/referrals/internal/db"
	"github.com/ambassador/referrals/internal/model"
)

// OtpRepo defines the interface for OTP verification repository operations.
// Mobiles passed in must already be normalized.
type OtpRepo interface {
	// IssueOrReuse returns the live record for mobile unchanged, or replaces a
	// missing/expired one with code valid until expiresAt. reused reports which.
	IssueOrReuse(ctx context.Context, mobile, code string, expiresAt, now time.Time) (rec model.OtpVerification, reused bool, err error)
	Get(ctx context.Context, mobile string) (model.OtpVerification, error)
	// Consume deletes the record if it still holds code and has not expired.
	// It reports false when another request consumed or replaced it first.
	Consume(ctx context.Context, mobile, code string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(database *sql.DB) OtpRepo {
	return &otpRepo{db: database}
}

// IssueOrReuse runs the check-then-act in one transaction. An advisory lock
// serializes requests per mobile; if a writer still slips past it the primary
// key rejects the insert and ErrConflict tells the caller to re-read.
func (r *otpRepo) IssueOrReuse(ctx context.Context, mobile, code string, expiresAt, now time.Time) (model.OtpVerification, bool, error) {
	var rec model.OtpVerification
	var reused bool

	err := db.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		// Blocks until we hold the lock; released on COMMIT/ROLLBACK.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, mobile); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		existing, err := scanOtp(tx.QueryRowContext(ctx, `
			SELECT mobile, code, expires_at, created_at
			FROM otp_verifications
			WHERE mobile = $1
			FOR UPDATE
		`, mobile))
		switch {
		case err == nil && !existing.Expired(now):
			rec, reused = existing, true
			return nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("query otp: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM otp_verifications WHERE mobile = $1`, mobile); err != nil {
			return fmt.Errorf("delete stale otp: %w", err)
		}

		rec, err = scanOtp(tx.QueryRowContext(ctx, `
			INSERT INTO otp_verifications (mobile, code, expires_at, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING mobile, code, expires_at, created_at
		`, mobile, code, expiresAt, now))
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("insert otp: %w", ErrConflict)
			}
			return fmt.Errorf("insert otp: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.OtpVerification{}, false, err
	}
	return rec, reused, nil
}

// Get returns the record for mobile, expired or not
func (r *otpRepo) Get(ctx context.Context, mobile string) (model.OtpVerification, error) {
	rec, err := scanOtp(r.db.QueryRowContext(ctx, `
		SELECT mobile, code, expires_at, created_at
		FROM otp_verifications
		WHERE mobile = $1
	`, mobile))
	if err != nil {
		return model.OtpVerification{}, notFound("otp", err)
	}
	return rec, nil
}

// Consume implements OtpRepo
func (r *otpRepo) Consume(ctx context.Context, mobile, code string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_verifications
		WHERE mobile = $1 AND code = $2 AND expires_at >= $3
	`, mobile, code, now)
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired removes records that expired before now
func (r *otpRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM otp_verifications WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func scanOtp(row rowScanner) (model.OtpVerification, error) {
	var rec model.OtpVerification
	err := row.Scan(&rec.Mobile, &rec.Code, &rec.ExpiresAt, &rec.CreatedAt)
	return rec, err
}
