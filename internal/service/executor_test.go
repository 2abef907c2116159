package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/reelpost/internal/models"
)

func TestExecutor_PublishesAndReleasesContent(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now().Add(time.Hour))
	f.start()
	require.NoError(t, f.scheduler.Schedule(id, time.Now().Add(time.Hour)))

	outcome := f.executor.Execute(f.ctx, id)
	assert.Equal(t, OutcomePosted, outcome)

	post := f.post(id)
	assert.Equal(t, models.PostStatusPosted, post.Status)
	require.NotNil(t, post.PostedAt)
	assert.Empty(t, post.Error)
	assert.False(t, f.contentExists("a.mp4"))
	assert.False(t, f.scheduler.Registered(id))

	calls := f.pub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "hi\n\n#x", calls[0].Caption)
	assert.Equal(t, "alice", calls[0].Username)
	assert.NotNil(t, calls[0].Session)
	assert.True(t, strings.HasSuffix(calls[0].ContentURL, "/a.mp4"))

	refreshed, err := f.accounts.Get(f.ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastPostAt)
}

func TestExecutor_PublishErrorFailsPost(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now().Add(time.Hour))
	f.start()
	require.NoError(t, f.scheduler.Schedule(id, time.Now().Add(time.Hour)))
	f.pub.err = errors.New("network timeout")

	assert.Equal(t, OutcomeFailed, f.executor.Execute(f.ctx, id))

	post := f.post(id)
	assert.Equal(t, models.PostStatusFailed, post.Status)
	assert.Equal(t, "network timeout", post.Error)
	assert.Nil(t, post.PostedAt)
	assert.NotNil(t, post.FinishedAt)
	assert.True(t, f.contentExists("a.mp4"))
	assert.False(t, f.scheduler.Registered(id))

	logs, err := f.monitoring.ListErrors(f.ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].JobID)
	assert.Equal(t, id, *logs[0].JobID)
	assert.Equal(t, "network timeout", logs[0].Message)
}

func TestExecutor_NilResult(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now())
	f.pub.result = nil

	assert.Equal(t, OutcomeFailed, f.executor.Execute(f.ctx, id))
	assert.Equal(t, noResultDetail, f.post(id).Error)
}

func TestExecutor_PanicBecomesFailure(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now())
	f.pub.panicWith = "boom"

	assert.Equal(t, OutcomeFailed, f.executor.Execute(f.ctx, id))

	post := f.post(id)
	assert.Equal(t, models.PostStatusFailed, post.Status)
	assert.Contains(t, post.Error, "boom")
}

func TestExecutor_TruncatesErrorDetail(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now())
	f.pub.err = errors.New(strings.Repeat("é", 800))

	f.executor.Execute(f.ctx, id)

	post := f.post(id)
	assert.Equal(t, models.MaxErrorLength, len([]rune(post.Error)))
}

func TestExecutor_ExpiredSessionSkipsPublish(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now())
	f.pub.validateErr = errors.New("login_required")

	assert.Equal(t, OutcomeFailed, f.executor.Execute(f.ctx, id))

	post := f.post(id)
	assert.Equal(t, models.PostStatusFailed, post.Status)
	assert.Contains(t, post.Error, "no longer accepted")
	assert.Empty(t, f.pub.Calls())
	assert.True(t, f.contentExists("a.mp4"))
}

func TestExecutor_MissingSession(t *testing.T) {
	f := newFixture(t)
	account, err := f.accounts.Create(f.ctx, "nosession", "pw", true)
	require.NoError(t, err)
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now())

	assert.Equal(t, OutcomeFailed, f.executor.Execute(f.ctx, id))
	assert.Contains(t, f.post(id).Error, "reelpost session create nosession")
	assert.Empty(t, f.pub.Calls())
}

func TestExecutor_InactiveAccount(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	require.NoError(t, f.accounts.SetActive(f.ctx, account.ID, false))
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now())

	assert.Equal(t, OutcomeFailed, f.executor.Execute(f.ctx, id))
	assert.Contains(t, f.post(id).Error, "inactive")
	assert.Empty(t, f.pub.Calls())
}

func TestExecutor_MissingContent(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	id := f.insertPost(account.ID, "gone.mp4", time.Now())

	assert.Equal(t, OutcomeFailed, f.executor.Execute(f.ctx, id))
	assert.Contains(t, f.post(id).Error, "gone.mp4")
	assert.Empty(t, f.pub.Calls())
}

func TestExecutor_AbortsResolvedOrDeletedPosts(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now())

	now := time.Now().UTC()
	changed, err := f.jobs.UpdateStatus(f.ctx, id, models.PostStatusPosted, &now, "")
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, OutcomeAborted, f.executor.Execute(f.ctx, id))
	assert.Equal(t, OutcomeAborted, f.executor.Execute(f.ctx, 9999))
	assert.Empty(t, f.pub.Calls())
	assert.True(t, f.contentExists("a.mp4"))
}

func TestExecutor_ConcurrentFiresPublishOnce(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now().Add(-time.Minute))
	f.pub.block = make(chan struct{})
	f.start()

	require.NoError(t, f.scheduler.FireNow(id))
	<-f.pub.started

	// Duplicate timer fire and a recovery fire land while the first run is publishing.
	require.NoError(t, f.scheduler.FireNow(id))
	report, err := NewRecoverySweep(f.jobs, f.scheduler, f.posts.logger).Run(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)

	close(f.pub.block)
	f.waitStatus(id, models.PostStatusPosted)

	require.Eventually(t, func() bool { return !f.scheduler.Executing(id) }, time.Second, 5*time.Millisecond)
	assert.Len(t, f.pub.Calls(), 1)
	assert.False(t, f.scheduler.Registered(id))
}

func TestExecutor_ConcurrentExecutePublishesOnce(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now().Add(-time.Minute))
	f.pub.block = make(chan struct{})

	outcomes := make(chan Outcome, 2)
	for i := 0; i < 2; i++ {
		go func() { outcomes <- f.executor.Execute(f.ctx, id) }()
	}

	<-f.pub.started
	// One run holds the claim inside Publish; the other must give up without publishing.
	first := <-outcomes
	close(f.pub.block)
	second := <-outcomes

	assert.Equal(t, OutcomeAborted, first)
	assert.Equal(t, OutcomePosted, second)
	assert.Len(t, f.pub.Calls(), 1)
	assert.Equal(t, models.PostStatusPosted, f.post(id).Status)
}

func TestExecutor_SkipsPostClaimedElsewhere(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now())

	now := time.Now()
	claimed, err := f.jobs.Claim(f.ctx, id, "other-run", now, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	assert.Equal(t, OutcomeAborted, f.executor.Execute(f.ctx, id))
	assert.Empty(t, f.pub.Calls())
	assert.Equal(t, models.PostStatusPending, f.post(id).Status)
	assert.True(t, f.contentExists("a.mp4"))
}

func TestExecutor_TakesOverStaleClaim(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	f.upload("a.mp4")
	id := f.insertPost(account.ID, "a.mp4", time.Now())

	abandoned := time.Now().Add(-time.Hour)
	claimed, err := f.jobs.Claim(f.ctx, id, "crashed-run", abandoned, abandoned.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	assert.Equal(t, OutcomePosted, f.executor.Execute(f.ctx, id))
	assert.Len(t, f.pub.Calls(), 1)
}

func TestJobStore_ResolveRequiresClaim(t *testing.T) {
	f := newFixture(t)
	account := f.account("alice")
	id := f.insertPost(account.ID, "a.mp4", time.Now())
	now := time.Now().UTC()

	_, err := f.jobs.Resolve(f.ctx, id, "", models.PostStatusPosted, &now, "")
	assert.ErrorIs(t, err, ErrInvalidState)

	claimed, err := f.jobs.Claim(f.ctx, id, "run-a", now, now.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	again, err := f.jobs.Claim(f.ctx, id, "run-b", now, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, again)

	changed, err := f.jobs.Resolve(f.ctx, id, "run-b", models.PostStatusPosted, &now, "")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.PostStatusPending, f.post(id).Status)

	changed, err = f.jobs.Resolve(f.ctx, id, "run-a", models.PostStatusPosted, &now, "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.PostStatusPosted, f.post(id).Status)
}
