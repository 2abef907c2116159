package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/reelpost/internal/models"
	"github.com/ifuryst/reelpost/internal/service/publisher"
	"github.com/ifuryst/reelpost/pkg/util"
)

const (
	noResultDetail = "no result object returned"

	// claimSlack is added to the publish timeout before a claim counts as abandoned.
	claimSlack      = 5 * time.Minute
	defaultClaimTTL = 30 * time.Minute
)

// AccountReader is the executor's view of accounts: read by id, stamp the last post.
type AccountReader interface {
	Get(ctx context.Context, id uint) (*models.Account, error)
	TouchLastPost(ctx context.Context, id uint, at time.Time) error
}

type SessionChecker interface {
	Validate(ctx context.Context, account *models.Account) SessionVerdict
}

// ContentResolver is a ContentStore that can also hand out a fetchable URL.
type ContentResolver interface {
	ContentStore
	Resolve(locator string) string
}

type Publisher interface {
	Publish(ctx context.Context, req publisher.PublishRequest) (*publisher.PublishResult, error)
}

type Outcome int

const (
	// OutcomeAborted means the post was gone or already resolved; nothing was written.
	OutcomeAborted Outcome = iota
	OutcomePosted
	OutcomeFailed
	// OutcomeDeferred means the store could not be read or written; the post stays pending.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAborted:
		return "aborted"
	case OutcomePosted:
		return "posted"
	case OutcomeFailed:
		return "failed"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

type ExecutorDeps struct {
	Jobs      *JobStore
	Accounts  AccountReader
	Sessions  SessionChecker
	Content   ContentResolver
	Publisher Publisher
	Timers    TimerRegistry
	Monitor   *MonitoringService
	Logger    *zap.Logger
	Timeout   time.Duration
}

// Executor drives one due post to a terminal status in a single pass.
type Executor struct {
	jobs      *JobStore
	accounts  AccountReader
	sessions  SessionChecker
	content   ContentResolver
	publisher Publisher
	timers    TimerRegistry
	monitor   *MonitoringService
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time
}

func NewExecutor(deps ExecutorDeps) *Executor {
	return &Executor{
		jobs:      deps.Jobs,
		accounts:  deps.Accounts,
		sessions:  deps.Sessions,
		content:   deps.Content,
		publisher: deps.Publisher,
		timers:    deps.Timers,
		monitor:   deps.Monitor,
		logger:    deps.Logger,
		timeout:   deps.Timeout,
		now:       time.Now,
	}
}

// Run implements JobRunner.
func (e *Executor) Run(ctx context.Context, postID uint) {
	outcome := e.Execute(ctx, postID)
	e.logger.Debug("Post execution finished",
		zap.Uint("post_id", postID),
		zap.Stringer("outcome", outcome))
}

// Execute runs the post and unregisters its timer on every exit path.
func (e *Executor) Execute(ctx context.Context, postID uint) Outcome {
	defer e.timers.Cancel(postID)

	post, outcome, ok := e.reload(ctx, postID)
	if !ok {
		return outcome
	}

	token := uuid.NewString()
	now := e.now()
	claimed, err := e.jobs.Claim(ctx, postID, token, now, now.Add(-e.claimTTL()))
	if err != nil {
		e.logger.Error("Failed to claim post, leaving it pending",
			zap.Uint("post_id", postID),
			zap.Error(err))
		return OutcomeDeferred
	}
	if !claimed {
		e.logger.Debug("Post claimed by another execution", zap.Uint("post_id", postID))
		return OutcomeAborted
	}
	post.ClaimToken = token

	account, err := e.accounts.Get(ctx, post.AccountID)
	switch {
	case errors.Is(err, ErrNotFound):
		return e.fail(ctx, post, ErrNotFound, fmt.Sprintf("account %d no longer exists", post.AccountID))
	case err != nil:
		e.logger.Error("Failed to load account, leaving post pending",
			zap.Uint("post_id", postID),
			zap.Error(err))
		e.release(ctx, postID, token)
		return OutcomeDeferred
	case !account.IsActive:
		return e.fail(ctx, post, ErrInvalidState, fmt.Sprintf("account %s is inactive", account.Username))
	}

	verdict := e.sessions.Validate(ctx, account)
	if verdict.State != SessionValid {
		return e.fail(ctx, post, ErrSessionUnavailable, verdict.Detail)
	}

	// The session check can take a while; the claim may have gone stale and been taken over.
	post, outcome, ok = e.reload(ctx, postID)
	if !ok {
		if outcome == OutcomeDeferred {
			e.release(ctx, postID, token)
		}
		return outcome
	}
	if post.ClaimToken != token {
		e.logger.Warn("Post claim lost before publishing", zap.Uint("post_id", postID))
		return OutcomeAborted
	}

	exists, err := e.content.Exists(ctx, post.ContentLocator)
	if err != nil {
		return e.fail(ctx, post, ErrExternalFailure, err.Error())
	}
	if !exists {
		return e.fail(ctx, post, ErrResourceMissing, fmt.Sprintf("content %s not found", post.ContentLocator))
	}

	result, err := e.publish(ctx, publisher.PublishRequest{
		Username:   account.Username,
		Session:    verdict.Artifact,
		ContentURL: e.content.Resolve(post.ContentLocator),
		Caption:    util.BuildCaption(post.Caption, post.Tags),
	})
	if err != nil {
		return e.fail(ctx, post, ErrExternalFailure, err.Error())
	}
	if result == nil {
		return e.fail(ctx, post, ErrExternalFailure, noResultDetail)
	}

	return e.succeed(ctx, post, account, result)
}

// reload fetches the post and reports whether execution should continue.
func (e *Executor) reload(ctx context.Context, postID uint) (*models.ScheduledPost, Outcome, bool) {
	post, err := e.jobs.Get(ctx, postID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.logger.Debug("Post deleted before execution", zap.Uint("post_id", postID))
			return nil, OutcomeAborted, false
		}
		e.logger.Error("Failed to load post, leaving it pending",
			zap.Uint("post_id", postID),
			zap.Error(err))
		return nil, OutcomeDeferred, false
	}
	if post.Status != models.PostStatusPending {
		e.logger.Debug("Post already resolved",
			zap.Uint("post_id", postID),
			zap.String("status", string(post.Status)))
		return nil, OutcomeAborted, false
	}
	return post, OutcomeAborted, true
}

func (e *Executor) claimTTL() time.Duration {
	if e.timeout <= 0 {
		return defaultClaimTTL
	}
	return e.timeout + claimSlack
}

func (e *Executor) release(ctx context.Context, postID uint, token string) {
	if err := e.jobs.Release(ctx, postID, token); err != nil {
		e.logger.Warn("Failed to release post claim",
			zap.Uint("post_id", postID),
			zap.Error(err))
	}
}

// publish runs the platform call detached from the caller's cancellation; once
// started it runs to completion or timeout. Panics come back as errors.
func (e *Executor) publish(ctx context.Context, req publisher.PublishRequest) (result *publisher.PublishResult, err error) {
	pctx := context.WithoutCancel(ctx)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Newf("publisher panicked: %v", r)
		}
	}()

	return e.publisher.Publish(pctx, req)
}

func (e *Executor) succeed(ctx context.Context, post *models.ScheduledPost, account *models.Account, result *publisher.PublishResult) Outcome {
	postedAt := e.now().UTC()

	changed, err := e.jobs.Resolve(ctx, post.ID, post.ClaimToken, models.PostStatusPosted, &postedAt, "")
	if err != nil {
		e.logger.Error("Post published but status could not be recorded",
			zap.Uint("post_id", post.ID),
			zap.String("media_id", result.MediaID),
			zap.Error(err))
		return OutcomeDeferred
	}
	if !changed {
		e.logger.Warn("Post published but was resolved concurrently",
			zap.Uint("post_id", post.ID),
			zap.String("media_id", result.MediaID))
		return OutcomeAborted
	}

	if err := e.accounts.TouchLastPost(ctx, account.ID, postedAt); err != nil {
		e.logger.Warn("Failed to update account last post time",
			zap.Uint("account_id", account.ID),
			zap.Error(err))
	}
	if err := e.content.Delete(ctx, post.ContentLocator); err != nil {
		e.logger.Warn("Failed to release content",
			zap.Uint("post_id", post.ID),
			zap.String("locator", post.ContentLocator),
			zap.Error(err))
	}

	e.logger.Info("Post published",
		zap.Uint("post_id", post.ID),
		zap.String("username", account.Username),
		zap.String("media_id", result.MediaID),
		zap.String("url", result.URL))
	return OutcomePosted
}

func (e *Executor) fail(ctx context.Context, post *models.ScheduledPost, kind error, detail string) Outcome {
	detail = util.Truncate(detail, models.MaxErrorLength)
	finishedAt := e.now().UTC()

	changed, err := e.jobs.Resolve(ctx, post.ID, post.ClaimToken, models.PostStatusFailed, &finishedAt, detail)
	if err != nil {
		e.logger.Error("Failed to record post failure",
			zap.Uint("post_id", post.ID),
			zap.String("detail", detail),
			zap.Error(err))
		return OutcomeDeferred
	}
	if !changed {
		return OutcomeAborted
	}

	e.logger.Warn("Post failed",
		zap.Uint("post_id", post.ID),
		zap.Uint("account_id", post.AccountID),
		zap.String("kind", kind.Error()),
		zap.String("detail", detail))

	if e.monitor != nil {
		err := e.monitor.RecordError(ctx, LevelError, "executor", "Post failed: "+kind.Error(), detail,
			WithJob(post.ID),
			WithAccount(post.AccountID),
			WithContext(map[string]interface{}{
				"content_locator": post.ContentLocator,
				"scheduled_at":    post.ScheduledAt,
			}))
		if err != nil {
			e.logger.Warn("Failed to record error log", zap.Uint("post_id", post.ID), zap.Error(err))
		}
	}
	return OutcomeFailed
}
