package ambassador

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/audit"
	"github.com/ambassador/referrals/internal/benefit"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/phone"
	"github.com/ambassador/referrals/internal/repo"
	"github.com/ambassador/referrals/internal/repo/memrepo"
	"github.com/ambassador/referrals/internal/testdata"
)

type stubVerifier struct {
	err    error
	mobile string
	calls  int
}

func (v *stubVerifier) VerifyOTP(_ context.Context, mobile, _ string) error {
	v.calls++
	v.mobile = mobile
	return v.err
}

func newService(t *testing.T, verifier OTPVerifier) (*Service, repo.AmbassadorRepo, *audit.MemorySink, *audit.Recorder) {
	t.Helper()
	testdata.Seed(7)
	db := memrepo.New(benefit.DefaultSlabs())
	ambassadors := memrepo.NewAmbassadorRepo(db)
	sink := &audit.MemorySink{}
	rec := audit.NewRecorder(sink, logger.Nop())
	return NewService(ambassadors, verifier, phone.NewNormalizer("IN"), rec, logger.Nop()), ambassadors, sink, rec
}

func TestRegister(t *testing.T) {
	verifier := &stubVerifier{}
	svc, ambassadors, sink, rec := newService(t, verifier)
	ctx := context.Background()

	a, err := svc.Register(ctx, RegisterRequest{
		Name:   "  Meera Iyer ",
		Mobile: "+91 97777 12345",
		Role:   "Staff",
		OTP:    "123456",
	})
	require.NoError(t, err)
	rec.Wait()

	assert.Equal(t, "Meera Iyer", a.Name)
	assert.Equal(t, "9777712345", a.Mobile)
	assert.Equal(t, "9777712345", verifier.mobile, "otp is verified against the normalized mobile")
	assert.Equal(t, model.RoleStaff, a.Role)
	assert.Equal(t, model.AdminNone, a.AdminRole)
	assert.True(t, strings.HasPrefix(a.ReferralCode, codePrefix))
	assert.Equal(t, model.BenefitInactive, a.BenefitStatus)

	stored, err := ambassadors.GetByMobile(ctx, "9777712345")
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAmbassadorCreated, entries[0].Action)
}

func TestRegister_DuplicateDoesNotConsumeOTP(t *testing.T) {
	verifier := &stubVerifier{}
	svc, ambassadors, _, _ := newService(t, verifier)
	ctx := context.Background()

	existing, err := ambassadors.Create(ctx, testdata.NewAmbassador(model.RoleParent))
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{Name: "X", Mobile: existing.Mobile, Role: "Parent", OTP: "123456"})
	assert.True(t, apperr.IsKind(err, apperr.DuplicateAsUser))
	assert.Zero(t, verifier.calls)
}

func TestRegister_OTPFailurePropagates(t *testing.T) {
	verifier := &stubVerifier{err: apperr.New(apperr.OtpExpired, "expired")}
	svc, ambassadors, _, _ := newService(t, verifier)

	_, err := svc.Register(context.Background(), RegisterRequest{Name: "X", Mobile: "9777712345", Role: "Parent", OTP: "123456"})
	assert.True(t, apperr.IsKind(err, apperr.OtpExpired))

	exists, err := ambassadors.ExistsByMobile(context.Background(), "9777712345")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _, _ := newService(t, &stubVerifier{})
	ctx := context.Background()

	for name, req := range map[string]RegisterRequest{
		"missing name": {Mobile: "9777712345", Role: "Parent", OTP: "123456"},
		"bad role":     {Name: "X", Mobile: "9777712345", Role: "Teacher", OTP: "123456"},
		"short otp":    {Name: "X", Mobile: "9777712345", Role: "Parent", OTP: "123"},
		"alpha otp":    {Name: "X", Mobile: "9777712345", Role: "Parent", OTP: "12a456"},
		"bad mobile":   {Name: "X", Mobile: "12", Role: "Parent", OTP: "123456"},
	} {
		_, err := svc.Register(ctx, req)
		assert.True(t, apperr.IsKind(err, apperr.Validation), name)
	}
}

func TestCreateWithCode_RetriesCodeCollision(t *testing.T) {
	ctx := context.Background()
	calls := 0
	create := func(_ context.Context, a repo.NewAmbassador) (model.Ambassador, error) {
		calls++
		if calls < 3 {
			return model.Ambassador{}, repo.ErrDuplicate
		}
		return model.Ambassador{Mobile: a.Mobile, ReferralCode: a.ReferralCode}, nil
	}
	notTaken := func(context.Context, string) (bool, error) { return false, nil }

	a, err := CreateWithCode(ctx, create, notTaken, repo.NewAmbassador{Mobile: "9777712345"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.NotEmpty(t, a.ReferralCode)

	taken := func(context.Context, string) (bool, error) { return true, nil }
	calls = 0
	_, err = CreateWithCode(ctx, create, taken, repo.NewAmbassador{Mobile: "9777712345"})
	assert.True(t, apperr.IsKind(err, apperr.DuplicateAsUser))

	failing := func(context.Context, repo.NewAmbassador) (model.Ambassador, error) {
		return model.Ambassador{}, errors.New("disk full")
	}
	_, err = CreateWithCode(ctx, failing, notTaken, repo.NewAmbassador{Mobile: "9777712345"})
	assert.True(t, apperr.IsKind(err, apperr.Storage))
}

func TestNewReferralCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := NewReferralCode()
		require.NoError(t, err)
		assert.Len(t, code, len(codePrefix)+codeLength)
		assert.NotContains(t, code[len(codePrefix):], "0")
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190)
}
