// Package jobs runs periodic housekeeping. Lazy expiry in the OTP gate and
// the rate limiter stays authoritative; sweeping only reclaims storage.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ambassador/referrals/internal/logger"
)

// SweepFunc deletes rows that expired before now and returns how many
type SweepFunc func(ctx context.Context, now time.Time) (int64, error)

// SweepTask is one named sweep
type SweepTask struct {
	Name  string
	Sweep SweepFunc
}

// CronManager manages scheduled jobs
type CronManager struct {
	cron    *cron.Cron
	tasks   []SweepTask
	log     logger.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewCronManager creates a new cron manager for the given sweeps
func NewCronManager(log logger.Logger, tasks ...SweepTask) *CronManager {
	return &CronManager{
		cron:    cron.New(),
		tasks:   tasks,
		log:     log,
		timeout: time.Minute,
		now:     time.Now,
	}
}

// SetupJobs schedules every sweep on spec, a standard five-field cron line
func (cm *CronManager) SetupJobs(spec string) error {
	_, err := cm.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cm.timeout)
		defer cancel()
		cm.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	cm.log.Info("sweep jobs scheduled", "schedule", spec, "tasks", len(cm.tasks))
	return nil
}

// Sweep runs every task once. A failing task is logged and the rest still run.
// It returns the rows removed per task.
func (cm *CronManager) Sweep(ctx context.Context) map[string]int64 {
	now := cm.now()
	removed := make(map[string]int64, len(cm.tasks))
	for _, task := range cm.tasks {
		n, err := task.Sweep(ctx, now)
		if err != nil {
			cm.log.Error("sweep failed", "task", task.Name, "error", err)
			continue
		}
		removed[task.Name] = n
		if n > 0 {
			cm.log.Info("sweep completed", "task", task.Name, "removed", n)
		}
	}
	return removed
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish
func (cm *CronManager) Stop() {
	<-cm.cron.Stop().Done()
}
