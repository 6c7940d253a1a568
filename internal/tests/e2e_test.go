package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambassador/referrals/internal/campus"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/testdata"
)

// TestReferralE2E runs the complete flow over HTTP against Postgres:
// register, refer, confirm, convert, convert again.
func TestReferralE2E(t *testing.T) {
	requireDatabase(t)
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.Campuses.Create(ctx, "Main Campus", campus.NormalizeName("Main Campus"))
	require.NoError(t, err)

	t.Run("A_Health", func(t *testing.T) {
		status, body := ts.call(t, "GET", "/health", "", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", body["status"])
	})

	var token, ambassadorID, leadID, adminToken string

	t.Run("B_Register", func(t *testing.T) {
		status, body := ts.call(t, "POST", "/otp/request", "", map[string]string{"mobile": "9811122233", "purpose": "registration"})
		require.Equal(t, http.StatusOK, status, body)
		require.Equal(t, devCode, body["dev_otp"])

		status, body = ts.call(t, "POST", "/ambassadors/register", "", map[string]string{
			"name": testdata.PersonName(), "mobile": "9811122233", "role": "Alumni", "otp": devCode,
		})
		require.Equal(t, http.StatusCreated, status, body)
		token = body["access_token"].(string)
		amb := body["ambassador"].(map[string]any)
		ambassadorID = amb["id"].(string)
		assert.EqualValues(t, 0, amb["confirmed_referral_count"])
		assert.Regexp(t, `^AMB[A-Z2-9]{6}$`, amb["referral_code"])
	})

	t.Run("C_Submit", func(t *testing.T) {
		status, body := ts.call(t, "POST", "/referrals", token, map[string]string{
			"parent_name":   "Sunita Rao",
			"parent_mobile": "8888888888",
			"student_name":  "Ira Rao",
			"campus":        "Main Campus",
		})
		require.Equal(t, http.StatusCreated, status, body)
		leadID = body["lead_id"].(string)

		status, body = ts.call(t, "POST", "/referrals", token, map[string]string{
			"parent_name": "Sunita Rao", "parent_mobile": "+91 88888 88888",
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "DUPLICATE_AS_LEAD", body["error_kind"])

		status, body = ts.call(t, "POST", "/referrals", token, map[string]string{
			"parent_name": "Self", "parent_mobile": "9811122233",
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "DUPLICATE_AS_USER", body["error_kind"])
	})

	t.Run("D_Confirm", func(t *testing.T) {
		fields := testdata.NewAmbassador(model.RoleStaff)
		fields.AdminRole = model.SuperAdmin
		admin, err := ts.Ambassadors.Create(ctx, fields)
		require.NoError(t, err)
		adminToken, _, err = ts.JWT.SignAccessToken(admin)
		require.NoError(t, err)

		status, body := ts.call(t, "POST", "/leads/"+leadID+"/confirm", adminToken, map[string]string{"admission_number": "ADM-2026-001"})
		require.Equal(t, http.StatusOK, status, body)
		b := body["benefit"].(map[string]any)
		assert.EqualValues(t, 1, b["confirmed_referral_count"])
		assert.EqualValues(t, 5, b["benefit_percent"])
		assert.Equal(t, "Active", b["benefit_status"])
	})

	t.Run("E_Convert", func(t *testing.T) {
		status, body := ts.call(t, "POST", "/leads/"+leadID+"/convert", adminToken, map[string]any{"base_fee": 95000})
		require.Equal(t, http.StatusCreated, status, body)
		assert.EqualValues(t, 5, body["discount_percent"])
		assert.Equal(t, true, body["parent_created"])
		assert.NotEmpty(t, body["student_id"])

		var linked string
		require.NoError(t, ts.DB.QueryRowContext(ctx,
			`SELECT referral_lead_id::text FROM students WHERE id = $1`, body["student_id"]).Scan(&linked))
		assert.Equal(t, leadID, linked)

		status, body = ts.call(t, "POST", "/leads/"+leadID+"/convert", adminToken, nil)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "ALREADY_CONVERTED", body["error_kind"])

		var students int
		require.NoError(t, ts.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&students))
		assert.Equal(t, 1, students)
	})

	t.Run("F_Stats", func(t *testing.T) {
		status, body := ts.call(t, "GET", "/ambassadors/"+ambassadorID+"/stats", token, nil)
		require.Equal(t, http.StatusOK, status, body)
		stats := body["stats"].(map[string]any)
		assert.EqualValues(t, 1, stats["total_referrals"])
		assert.EqualValues(t, 1, stats["confirmed"])
		assert.EqualValues(t, 0, stats["pending"])
	})

	t.Run("G_Audit", func(t *testing.T) {
		ts.Recorder.Wait()
		var n int
		require.NoError(t, ts.DB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM audit_logs WHERE target_id = $1`, leadID).Scan(&n))
		assert.GreaterOrEqual(t, n, 2)
	})

	t.Run("H_OTPRateLimit", func(t *testing.T) {
		var last int
		for i := 0; i < 4; i++ {
			last, _ = ts.call(t, "POST", "/otp/request", "", map[string]string{"mobile": "9700000001"})
		}
		assert.Equal(t, http.StatusTooManyRequests, last, "4th request in the window must be refused")
	})
}
