package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reelpost/internal/config"
	"github.com/ifuryst/reelpost/internal/models"
	"github.com/ifuryst/reelpost/internal/service/publisher"
	"github.com/ifuryst/reelpost/internal/service/storage"
	"github.com/ifuryst/reelpost/pkg/secret"
)

var dbCounter atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	n := dbCounter.Add(1)
	db, err := NewDatabase(&config.DatabaseConfig{
		Type: "sqlite",
		Path: fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", n),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func memBase(t *testing.T, kind string) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("mem://localhost/%s/%s", name, kind)
}

// stubPublisher records publish calls. Block, when set, holds every publish until closed.
type stubPublisher struct {
	mu          sync.Mutex
	calls       []publisher.PublishRequest
	result      *publisher.PublishResult
	err         error
	panicWith   interface{}
	validateErr error
	block       chan struct{}
	started     chan struct{}
}

func newStubPublisher() *stubPublisher {
	return &stubPublisher{
		result:  &publisher.PublishResult{MediaID: "m-1", Code: "abc", URL: "https://example.com/reel/abc"},
		started: make(chan struct{}, 16),
	}
}

func (p *stubPublisher) Publish(ctx context.Context, req publisher.PublishRequest) (*publisher.PublishResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	result, err, panicWith, block := p.result, p.err, p.panicWith, p.block
	p.mu.Unlock()

	p.started <- struct{}{}
	if block != nil {
		<-block
	}
	if panicWith != nil {
		panic(panicWith)
	}
	return result, err
}

func (p *stubPublisher) ValidateSession(ctx context.Context, session *publisher.SessionArtifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validateErr
}

func (p *stubPublisher) Login(ctx context.Context, req publisher.LoginRequest) (publisher.LoginResult, error) {
	return publisher.LoginResult{Outcome: publisher.LoginBadCredentials}, nil
}

func (p *stubPublisher) Calls() []publisher.PublishRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publisher.PublishRequest(nil), p.calls...)
}

type fixture struct {
	t          *testing.T
	ctx        context.Context
	db         *gorm.DB
	jobs       *JobStore
	content    *storage.ContentStore
	sessions   *storage.SessionStore
	pub        *stubPublisher
	accounts   *AccountService
	configs    *ScheduleConfigService
	monitoring *MonitoringService
	scheduler  *Scheduler
	executor   *Executor
	posts      *PostService
}

// newFixture wires the engine against sqlite and mem:// storage. The scheduler
// is not started; call start when a test needs timers.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	db := newTestDB(t)
	fs := afs.New()

	box, err := secret.New("test-key")
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		jobs:     NewJobStore(db),
		content:  storage.NewContentStore(fs, memBase(t, "uploads")),
		sessions: storage.NewSessionStore(fs, memBase(t, "sessions")),
		pub:      newStubPublisher(),
	}
	f.accounts = NewAccountService(db, box, f.content, logger)
	f.configs = NewScheduleConfigService(db)
	f.monitoring = NewMonitoringService(db, logger)
	f.scheduler = NewScheduler(300*time.Second, logger)
	f.executor = NewExecutor(ExecutorDeps{
		Jobs:      f.jobs,
		Accounts:  f.accounts,
		Sessions:  NewSessionGate(f.sessions, f.pub, logger),
		Content:   f.content,
		Publisher: f.pub,
		Timers:    f.scheduler,
		Monitor:   f.monitoring,
		Logger:    logger,
		Timeout:   5 * time.Second,
	})
	f.posts = NewPostService(PostServiceDeps{
		DB:            db,
		Configs:       f.configs,
		Scheduler:     f.scheduler,
		Content:       f.content,
		MinSeparation: 5 * time.Minute,
		Logger:        logger,
	})
	return f
}

func (f *fixture) start() {
	require.NoError(f.t, f.scheduler.Start(f.ctx, f.executor))
	f.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.scheduler.Stop(ctx)
	})
}

// account creates an active account with a stored session.
func (f *fixture) account(username string) *models.Account {
	f.t.Helper()
	account, err := f.accounts.Create(f.ctx, username, "pw-"+username, true)
	require.NoError(f.t, err)
	require.NoError(f.t, f.sessions.Save(f.ctx, &publisher.SessionArtifact{
		Username:  username,
		Settings:  []byte(`{"cookie":"x"}`),
		CreatedAt: time.Now().UTC(),
	}))
	return account
}

func (f *fixture) upload(locator string) {
	f.t.Helper()
	require.NoError(f.t, f.content.Save(f.ctx, locator, strings.NewReader("video-bytes")))
}

func (f *fixture) contentExists(locator string) bool {
	f.t.Helper()
	exists, err := f.content.Exists(f.ctx, locator)
	require.NoError(f.t, err)
	return exists
}

// insertPost writes a pending post directly, bypassing submit validation.
func (f *fixture) insertPost(accountID uint, locator string, due time.Time) uint {
	f.t.Helper()
	id, err := f.jobs.Create(f.ctx, &models.ScheduledPost{
		AccountID:      accountID,
		ContentLocator: locator,
		Caption:        "hi",
		Tags:           "#x",
		ScheduledAt:    due.UTC(),
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) post(id uint) *models.ScheduledPost {
	f.t.Helper()
	post, err := f.jobs.Get(f.ctx, id)
	require.NoError(f.t, err)
	return post
}

func (f *fixture) waitStatus(id uint, status models.PostStatus) *models.ScheduledPost {
	f.t.Helper()
	var post *models.ScheduledPost
	require.Eventually(f.t, func() bool {
		p, err := f.jobs.Get(f.ctx, id)
		if err != nil {
			return false
		}
		post = p
		return p.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return post
}
