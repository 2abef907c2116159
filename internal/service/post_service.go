package service

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/reelpost/internal/models"
	"github.com/ifuryst/reelpost/pkg/util"
)

type SubmitRequest struct {
	AccountID      uint      `json:"account_id" binding:"required"`
	ContentLocator string    `json:"content_locator" binding:"required"`
	Caption        string    `json:"caption"`
	Tags           string    `json:"tags"`
	ScheduledAt    time.Time `json:"scheduled_at" binding:"required"`
}

type PostServiceDeps struct {
	DB            *gorm.DB
	Configs       *ScheduleConfigService
	Scheduler     TimerRegistry
	Content       ContentStore
	MinSeparation time.Duration
	Logger        *zap.Logger
}

type PostService struct {
	db         *gorm.DB
	jobs       *JobStore
	configs    *ScheduleConfigService
	scheduler  TimerRegistry
	content    ContentStore
	separation time.Duration
	logger     *zap.Logger
	now        func() time.Time
	reconciled atomic.Bool
}

func NewPostService(deps PostServiceDeps) *PostService {
	return &PostService{
		db:         deps.DB,
		jobs:       NewJobStore(deps.DB),
		configs:    deps.Configs,
		scheduler:  deps.Scheduler,
		content:    deps.Content,
		separation: deps.MinSeparation,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

func (s *PostService) validate(req *SubmitRequest) error {
	req.ContentLocator = strings.TrimSpace(req.ContentLocator)
	req.Tags = util.NormalizeTags(req.Tags)

	if req.AccountID == 0 {
		return validationErrorf("account_id is required")
	}
	if req.ContentLocator == "" {
		return validationErrorf("content_locator is required")
	}
	if !util.SafeLocator(req.ContentLocator) {
		return validationErrorf("content_locator %q must be a relative path inside the content store", req.ContentLocator)
	}
	if n := util.RuneLen(req.Caption); n > models.MaxCaptionLength {
		return validationErrorf("caption is %d characters, limit is %d", n, models.MaxCaptionLength)
	}
	if n := util.RuneLen(req.Tags); n > models.MaxTagsLength {
		return validationErrorf("tags are %d characters, limit is %d", n, models.MaxTagsLength)
	}
	if n := util.RuneLen(util.BuildCaption(req.Caption, req.Tags)); n > models.MaxCaptionLength {
		return validationErrorf("caption with tags is %d characters, limit is %d", n, models.MaxCaptionLength)
	}
	if !req.ScheduledAt.After(s.now()) {
		return validationErrorf("scheduled_at %s is not in the future", req.ScheduledAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// Submit persists a pending post and then arms its timer. If the timer cannot
// be armed the row is deleted again, so a returned id always has a live timer.
func (s *PostService) Submit(ctx context.Context, req SubmitRequest) (uint, error) {
	if err := s.validate(&req); err != nil {
		return 0, err
	}
	due := req.ScheduledAt.UTC()

	var postID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The account row lock serializes window checks for one account.
		// sqlite runs writers on a single connection and has no FOR UPDATE.
		lookup := tx
		if tx.Dialector.Name() != "sqlite" {
			lookup = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var accounts []models.Account
		if err := lookup.Where("id = ?", req.AccountID).Limit(1).Find(&accounts).Error; err != nil {
			return persistenceError(err, "failed to load account")
		}
		if len(accounts) == 0 {
			return validationErrorf("account %d does not exist", req.AccountID)
		}

		cfg, err := s.configs.load(tx)
		if err != nil {
			return err
		}
		if !cfg.Active {
			return validationErrorf("posting schedule is paused")
		}

		jobs := s.jobs.WithTx(tx)
		if s.separation > 0 {
			clash, err := jobs.HasPendingWithin(ctx, req.AccountID, due, s.separation)
			if err != nil {
				return err
			}
			if clash {
				return validationErrorf("account %s already has a post within %s of %s",
					accounts[0].Username, s.separation, due.Format(time.RFC3339))
			}
		}

		postID, err = jobs.Create(ctx, &models.ScheduledPost{
			AccountID:      req.AccountID,
			ContentLocator: req.ContentLocator,
			Caption:        req.Caption,
			Tags:           req.Tags,
			ScheduledAt:    due,
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	if err := s.scheduler.Schedule(postID, due); err != nil {
		if _, derr := s.jobs.Delete(ctx, postID); derr != nil {
			s.logger.Error("Failed to remove post after timer registration failed, recovery will pick it up",
				zap.Uint("post_id", postID),
				zap.Error(derr))
		}
		return 0, errors.Wrapf(err, "failed to register timer for post %d", postID)
	}

	s.logger.Info("Post scheduled",
		zap.Uint("post_id", postID),
		zap.Uint("account_id", req.AccountID),
		zap.Time("scheduled_at", due))
	return postID, nil
}

func (s *PostService) Get(ctx context.Context, id uint) (*models.JobSummary, error) {
	post, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summarize(ctx, []models.ScheduledPost{*post})
	if err != nil {
		return nil, err
	}
	return &summaries[0], nil
}

// Cancel deletes a pending post that no execution has claimed and releases its content.
func (s *PostService) Cancel(ctx context.Context, id uint) error {
	post, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if post.Status != models.PostStatusPending {
		return invalidStateErrorf("post %d is already %s", id, post.Status)
	}

	deleted, err := s.jobs.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return invalidStateErrorf("post %d is being published or was resolved while cancelling", id)
	}
	s.scheduler.Cancel(id)

	if err := s.content.Delete(ctx, post.ContentLocator); err != nil {
		s.logger.Warn("Failed to release content",
			zap.Uint("post_id", id),
			zap.String("locator", post.ContentLocator),
			zap.Error(err))
	}

	s.logger.Info("Post cancelled", zap.Uint("post_id", id))
	return nil
}

func (s *PostService) List(ctx context.Context, filter ListFilter) ([]models.JobSummary, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, validationErrorf("unknown status %q", *filter.Status)
	}
	posts, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, posts)
}

func (s *PostService) summarize(ctx context.Context, posts []models.ScheduledPost) ([]models.JobSummary, error) {
	ids := make([]uint, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.AccountID)
	}

	usernames := make(map[uint]string, len(ids))
	if len(ids) > 0 {
		var accounts []models.Account
		if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error; err != nil {
			return nil, persistenceError(err, "failed to load accounts")
		}
		for _, account := range accounts {
			usernames[account.ID] = account.Username
		}
	}

	summaries := make([]models.JobSummary, 0, len(posts))
	for _, post := range posts {
		summaries = append(summaries, models.JobSummary{
			ID:              post.ID,
			AccountID:       post.AccountID,
			AccountUsername: usernames[post.AccountID],
			ContentLocator:  post.ContentLocator,
			Caption:         post.Caption,
			Tags:            post.Tags,
			ScheduledAt:     post.ScheduledAt,
			Status:          post.Status,
			PostedAt:        post.PostedAt,
			Error:           post.Error,
		})
	}
	return summaries, nil
}

// ReconcileOnStartup runs the recovery sweep. It must run once, before the
// API accepts submissions.
func (s *PostService) ReconcileOnStartup(ctx context.Context) (RecoveryReport, error) {
	if !s.reconciled.CompareAndSwap(false, true) {
		return RecoveryReport{}, invalidStateErrorf("startup reconciliation already ran")
	}
	return NewRecoverySweep(s.jobs, s.scheduler, s.logger).Run(ctx)
}

// CleanupFailed removes failed posts finished at or before cutoff and releases their content.
func (s *PostService) CleanupFailed(ctx context.Context, cutoff time.Time) (int, error) {
	posts, err := s.jobs.ListFailedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	ids := make([]uint, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}
	deleted, err := s.jobs.DeleteFailed(ctx, ids)
	if err != nil {
		return 0, err
	}

	for _, post := range posts {
		if err := s.content.Delete(ctx, post.ContentLocator); err != nil {
			s.logger.Warn("Failed to release content",
				zap.Uint("post_id", post.ID),
				zap.String("locator", post.ContentLocator),
				zap.Error(err))
		}
	}

	s.logger.Info("Failed posts cleaned up",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff))
	return int(deleted), nil
}
