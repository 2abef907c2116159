package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"github.com/ifuryst/reelpost/internal/models"
)

// ListFilter narrows job listings; nil fields match everything.
type ListFilter struct {
	Status    *models.PostStatus
	AccountID *uint
}

// JobStore is the durable table of scheduled posts.
// Status changes are compare-and-swap from pending. An execution first claims
// the row; only the claim holder publishes and writes the terminal status.
type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// WithTx returns a store bound to an open transaction.
func (s *JobStore) WithTx(tx *gorm.DB) *JobStore {
	return &JobStore{db: tx}
}

func (s *JobStore) Create(ctx context.Context, post *models.ScheduledPost) (uint, error) {
	post.Status = models.PostStatusPending
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return 0, persistenceError(err, "failed to create scheduled post")
	}
	return post.ID, nil
}

func (s *JobStore) Get(ctx context.Context, id uint) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErrorf("post %d not found", id)
		}
		return nil, persistenceError(err, "failed to load scheduled post")
	}
	return &post, nil
}

func (s *JobStore) ListPending(ctx context.Context) ([]models.ScheduledPost, error) {
	pending := models.PostStatusPending
	return s.List(ctx, ListFilter{Status: &pending})
}

func (s *JobStore) List(ctx context.Context, filter ListFilter) ([]models.ScheduledPost, error) {
	query := s.db.WithContext(ctx).Model(&models.ScheduledPost{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}

	var posts []models.ScheduledPost
	if err := query.Order("scheduled_at, id").Find(&posts).Error; err != nil {
		return nil, persistenceError(err, "failed to list scheduled posts")
	}
	return posts, nil
}

// UpdateStatus moves a pending post to a terminal status. It reports false
// when the post was no longer pending, in which case nothing is written.
func (s *JobStore) UpdateStatus(ctx context.Context, id uint, status models.PostStatus, resultAt *time.Time, errMsg string) (bool, error) {
	return s.finish(ctx, id, "", status, resultAt, errMsg)
}

// Claim marks a pending post as taken by one execution. A claim older than
// staleBefore is treated as abandoned and can be taken over.
func (s *JobStore) Claim(ctx context.Context, id uint, token string, at, staleBefore time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ? AND status = ?", id, models.PostStatusPending).
		Where("(claim_token IS NULL OR claim_token = '' OR claimed_at < ?)", staleBefore.UTC()).
		Updates(map[string]interface{}{
			"claim_token": token,
			"claimed_at":  at.UTC(),
		})
	if result.Error != nil {
		return false, persistenceError(result.Error, "failed to claim scheduled post")
	}
	return result.RowsAffected == 1, nil
}

// Release drops a claim so the post can be cancelled or executed again.
func (s *JobStore) Release(ctx context.Context, id uint, token string) error {
	err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, models.PostStatusPending, token).
		Updates(map[string]interface{}{
			"claim_token": "",
			"claimed_at":  nil,
		}).Error
	if err != nil {
		return persistenceError(err, "failed to release scheduled post")
	}
	return nil
}

// Resolve is UpdateStatus for the holder of a claim; it writes nothing unless
// the post is still pending under token.
func (s *JobStore) Resolve(ctx context.Context, id uint, token string, status models.PostStatus, resultAt *time.Time, errMsg string) (bool, error) {
	if token == "" {
		return false, invalidStateErrorf("post %d resolved without a claim", id)
	}
	return s.finish(ctx, id, token, status, resultAt, errMsg)
}

func (s *JobStore) finish(ctx context.Context, id uint, token string, status models.PostStatus, resultAt *time.Time, errMsg string) (bool, error) {
	if !status.Terminal() {
		return false, invalidStateErrorf("cannot transition post %d to %q", id, status)
	}

	updates := map[string]interface{}{
		"status":      status,
		"finished_at": resultAt,
		"error":       errMsg,
	}
	if status == models.PostStatusPosted {
		updates["posted_at"] = resultAt
	}

	query := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ? AND status = ?", id, models.PostStatusPending)
	if token != "" {
		query = query.Where("claim_token = ?", token)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return false, persistenceError(result.Error, "failed to update post status")
	}
	return result.RowsAffected == 1, nil
}

// Delete removes a post only while it is pending and not claimed by an execution.
func (s *JobStore) Delete(ctx context.Context, id uint) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, models.PostStatusPending).
		Where("(claim_token IS NULL OR claim_token = '')").
		Delete(&models.ScheduledPost{})
	if result.Error != nil {
		return false, persistenceError(result.Error, "failed to delete scheduled post")
	}
	return result.RowsAffected == 1, nil
}

// HasPendingWithin reports whether the account already has a pending post
// strictly closer than window to due.
func (s *JobStore) HasPendingWithin(ctx context.Context, accountID uint, due time.Time, window time.Duration) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("account_id = ? AND status = ?", accountID, models.PostStatusPending).
		Where("scheduled_at > ? AND scheduled_at < ?", due.Add(-window), due.Add(window)).
		Count(&count).Error
	if err != nil {
		return false, persistenceError(err, "failed to check schedule window")
	}
	return count > 0, nil
}

func (s *JobStore) CountPendingForAccount(ctx context.Context, accountID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("account_id = ? AND status = ?", accountID, models.PostStatusPending).
		Count(&count).Error
	if err != nil {
		return 0, persistenceError(err, "failed to count pending posts")
	}
	return count, nil
}

// ListFailedBefore returns failed posts that finished before the cutoff.
func (s *JobStore) ListFailedBefore(ctx context.Context, cutoff time.Time) ([]models.ScheduledPost, error) {
	var posts []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("status = ?", models.PostStatusFailed).
		Where("finished_at IS NULL OR finished_at <= ?", cutoff).
		Order("id").
		Find(&posts).Error
	if err != nil {
		return nil, persistenceError(err, "failed to list failed posts")
	}
	return posts, nil
}

func (s *JobStore) DeleteFailed(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, models.PostStatusFailed).
		Delete(&models.ScheduledPost{})
	if result.Error != nil {
		return 0, persistenceError(result.Error, "failed to delete failed posts")
	}
	return result.RowsAffected, nil
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[models.PostStatus]int64, error) {
	var rows []struct {
		Status models.PostStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, persistenceError(err, "failed to count posts")
	}

	counts := make(map[models.PostStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
