package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type FailedCleaner interface {
	CleanupFailed(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor periodically removes failed posts older than the retention window.
type Janitor struct {
	cleaner   FailedCleaner
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
	c         *cron.Cron
	ctx       context.Context
}

func NewJanitor(cleaner FailedCleaner, schedule string, retention time.Duration, logger *zap.Logger) (*Janitor, error) {
	j := &Janitor{
		cleaner:   cleaner,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		ctx:       context.Background(),
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	j.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := j.c.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins the cron loop; ctx bounds each sweep.
func (j *Janitor) Start(ctx context.Context) {
	j.ctx = ctx
	j.c.Start()
	j.logger.Info("Starting janitor", zap.Duration("retention", j.retention))
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.c.Stop().Done()
	j.logger.Info("Janitor stopped")
}

// Sweep deletes failed posts that finished more than the retention window ago.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	return j.cleaner.CleanupFailed(ctx, cutoff)
}

func (j *Janitor) run() {
	j.logger.Debug("Cleaning up failed posts")

	deleted, err := j.Sweep(j.ctx)
	if err != nil {
		j.logger.Error("Failed to clean up failed posts", zap.Error(err))
		return
	}
	if deleted > 0 {
		j.logger.Info("Removed expired failed posts", zap.Int("deleted", deleted))
	}
}
