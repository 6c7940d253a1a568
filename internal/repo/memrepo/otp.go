package memrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/repo"
)

type otpRepository struct {
	db *DB
}

// NewOtpRepo returns an in-memory repo.OtpRepo
func NewOtpRepo(db *DB) repo.OtpRepo {
	return &otpRepository{db: db}
}

func (r *otpRepository) IssueOrReuse(_ context.Context, mobile, code string, expiresAt, now time.Time) (model.OtpVerification, bool, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.OtpVerification{}, false, r.db.Err
	}
	if existing, ok := r.db.otps[mobile]; ok && !existing.Expired(now) {
		return existing, true, nil
	}
	rec := model.OtpVerification{Mobile: mobile, Code: code, ExpiresAt: expiresAt, CreatedAt: now}
	r.db.otps[mobile] = rec
	return rec, false, nil
}

func (r *otpRepository) Get(_ context.Context, mobile string) (model.OtpVerification, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.OtpVerification{}, r.db.Err
	}
	if rec, ok := r.db.otps[mobile]; ok {
		return rec, nil
	}
	return model.OtpVerification{}, fmt.Errorf("otp: %w", repo.ErrNotFound)
}

func (r *otpRepository) Consume(_ context.Context, mobile, code string, now time.Time) (bool, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return false, r.db.Err
	}
	rec, ok := r.db.otps[mobile]
	if !ok || rec.Code != code || rec.Expired(now) {
		return false, nil
	}
	delete(r.db.otps, mobile)
	return true, nil
}

func (r *otpRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return 0, r.db.Err
	}
	var n int64
	for mobile, rec := range r.db.otps {
		if rec.ExpiresAt.Before(now) {
			delete(r.db.otps, mobile)
			n++
		}
	}
	return n, nil
}
