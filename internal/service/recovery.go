package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type RecoveryReport struct {
	Scheduled int `json:"scheduled"`
	Fired     int `json:"fired"`
	Failed    int `json:"failed"`
}

// RecoverySweep re-arms the scheduler from the pending posts in the store.
type RecoverySweep struct {
	jobs   *JobStore
	timers TimerRegistry
	logger *zap.Logger
	now    func() time.Time
}

func NewRecoverySweep(jobs *JobStore, timers TimerRegistry, logger *zap.Logger) *RecoverySweep {
	return &RecoverySweep{
		jobs:   jobs,
		timers: timers,
		logger: logger,
		now:    time.Now,
	}
}

// Run schedules future posts and fires due ones. A post that cannot be
// registered is counted and skipped; only failing to list the pending set aborts.
func (r *RecoverySweep) Run(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	pending, err := r.jobs.ListPending(ctx)
	if err != nil {
		return report, err
	}

	now := r.now()
	for _, post := range pending {
		if post.ScheduledAt.After(now) {
			if err := r.timers.Schedule(post.ID, post.ScheduledAt); err != nil {
				report.Failed++
				r.logger.Error("Failed to re-register post",
					zap.Uint("post_id", post.ID),
					zap.Error(err))
				continue
			}
			report.Scheduled++
			continue
		}

		if err := r.timers.FireNow(post.ID); err != nil {
			report.Failed++
			r.logger.Error("Failed to fire overdue post",
				zap.Uint("post_id", post.ID),
				zap.Error(err))
			continue
		}
		report.Fired++
		r.logger.Info("Firing overdue post",
			zap.Uint("post_id", post.ID),
			zap.Duration("overdue_by", now.Sub(post.ScheduledAt)))
	}

	r.logger.Info("Recovery sweep completed",
		zap.Int("pending", len(pending)),
		zap.Int("scheduled", report.Scheduled),
		zap.Int("fired", report.Fired),
		zap.Int("failed", report.Failed))
	return report, nil
}
