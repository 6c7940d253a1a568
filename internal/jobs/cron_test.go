package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambassador/referrals/internal/benefit"
	"github.com/ambassador/referrals/internal/logger"
	"github.com/ambassador/referrals/internal/ratelimit"
	"github.com/ambassador/referrals/internal/repo/memrepo"
)

func TestSweep_RemovesExpiredRows(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	otps := memrepo.NewOtpRepo(memrepo.New(benefit.DefaultSlabs()))
	_, _, err := otps.IssueOrReuse(ctx, "9000000010", "111111", start.Add(3*time.Minute), start)
	require.NoError(t, err)
	_, _, err = otps.IssueOrReuse(ctx, "9000000011", "222222", start.Add(30*time.Minute), start)
	require.NoError(t, err)

	windows := ratelimit.NewMemoryStore()
	_, err = windows.Hit(ctx, "ip:10.0.0.1", 5, time.Minute, start)
	require.NoError(t, err)

	cm := NewCronManager(logger.Nop(),
		SweepTask{Name: "otp", Sweep: otps.DeleteExpired},
		SweepTask{Name: "rate_limits", Sweep: windows.Sweep},
	)
	cm.now = func() time.Time { return start.Add(10 * time.Minute) }

	removed := cm.Sweep(ctx)
	assert.Equal(t, map[string]int64{"otp": 1, "rate_limits": 1}, removed)

	_, err = otps.Get(ctx, "9000000010")
	assert.Error(t, err)
	rec, err := otps.Get(ctx, "9000000011")
	require.NoError(t, err)
	assert.Equal(t, "222222", rec.Code)
}

func TestSweep_FailingTaskDoesNotStopOthers(t *testing.T) {
	var ran bool
	cm := NewCronManager(logger.Nop(),
		SweepTask{Name: "broken", Sweep: func(context.Context, time.Time) (int64, error) {
			return 0, errors.New("db down")
		}},
		SweepTask{Name: "ok", Sweep: func(context.Context, time.Time) (int64, error) {
			ran = true
			return 3, nil
		}},
	)

	removed := cm.Sweep(context.Background())
	assert.True(t, ran)
	assert.Equal(t, map[string]int64{"ok": 3}, removed)
}

func TestSetupJobs(t *testing.T) {
	cm := NewCronManager(logger.Nop())
	assert.Error(t, cm.SetupJobs("every now and then"))
	require.NoError(t, cm.SetupJobs("*/15 * * * *"))
	assert.Len(t, cm.cron.Entries(), 1)

	cm.Start()
	cm.Stop()
}
