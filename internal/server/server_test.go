package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"go.uber.org/zap"

	"github.com/ifuryst/reelpost/internal/config"
	"github.com/ifuryst/reelpost/internal/service"
	"github.com/ifuryst/reelpost/internal/service/publisher"
)

var dbCounter atomic.Int64

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, req publisher.PublishRequest) (*publisher.PublishResult, error) {
	return &publisher.PublishResult{MediaID: "m-1"}, nil
}

func (nopPublisher) ValidateSession(ctx context.Context, session *publisher.SessionArtifact) error {
	return nil
}

func (nopPublisher) Login(ctx context.Context, req publisher.LoginRequest) (publisher.LoginResult, error) {
	return publisher.LoginResult{Outcome: publisher.LoginBadCredentials}, nil
}

// buildTestServer wires a server against sqlite and mem:// storage without starting anything.
func buildTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	n := dbCounter.Add(1)
	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	cfg.Database.Type = "sqlite"
	cfg.Database.Path = fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", n)
	cfg.Security.EncryptionKey = "test-key"
	cfg.Content.BaseURL = fmt.Sprintf("mem://localhost/server_test_%d/uploads", n)
	cfg.Session.Dir = fmt.Sprintf("mem://localhost/server_test_%d/sessions", n)
	config.ApplyDefaults(cfg)
	if mutate != nil {
		mutate(cfg)
	}

	db, err := service.NewDatabase(&cfg.Database)
	require.NoError(t, err)

	srv, err := NewServer(cfg, zap.NewNop(), WithDB(db), WithFS(afs.New()), WithPublisher(nopPublisher{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return srv
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	srv := buildTestServer(t, mutate)

	require.NoError(t, srv.Scheduler.Start(context.Background(), srv.Executor))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Scheduler.Stop(ctx)
	})
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestPostLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/accounts", map[string]interface{}{
		"username": "alice",
		"password": "hunter2",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")

	var account struct {
		ID uint `json:"id"`
	}
	decode(t, w, &account)

	// past due
	w = doJSON(t, srv, http.MethodPost, "/api/v1/posts", map[string]interface{}{
		"account_id":      account.ID,
		"content_locator": "a.mp4",
		"scheduled_at":    time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/posts", map[string]interface{}{
		"account_id":      account.ID,
		"content_locator": "a.mp4",
		"caption":         "hi",
		"tags":            "x, y",
		"scheduled_at":    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		ID uint `json:"id"`
	}
	decode(t, w, &created)

	w = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/posts/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"account_username":"alice"`)
	assert.Contains(t, w.Body.String(), `"tags":"#x #y"`)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/posts?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Posts []map[string]interface{} `json:"posts"`
	}
	decode(t, w, &listed)
	assert.Len(t, listed.Posts, 1)

	// pending posts block account deletion
	w = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/accounts/%d", account.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/posts/%d", created.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/posts/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/accounts/%d", account.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadContent(t *testing.T) {
	srv := newTestServer(t, nil)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "Clip.MP4")
	require.NoError(t, err)
	_, err = part.Write([]byte("video"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/content", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Locator string `json:"content_locator"`
	}
	decode(t, w, &resp)
	assert.True(t, strings.HasSuffix(resp.Locator, ".mp4"))

	exists, err := srv.Content.Exists(context.Background(), resp.Locator)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestScheduleConfigAndStats(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/schedule-config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"interval_hours":1,"active":true}`, w.Body.String())

	w = doJSON(t, srv, http.MethodPut, "/api/v1/schedule-config", map[string]interface{}{"interval_hours": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPut, "/api/v1/schedule-config", map[string]interface{}{"interval_hours": 4})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"interval_hours":4,"active":true}`, w.Body.String())

	w = doJSON(t, srv, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending_jobs":0`)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/posts/cleanup-failed", map[string]string{"older_than": "1h"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":0}`, w.Body.String())
}

func TestAuthRequired(t *testing.T) {
	secret, _, err := service.GenerateSecret("admin")
	require.NoError(t, err)
	srv := newTestServer(t, func(cfg *config.Config) { cfg.Auth.TOTPSecret = secret })

	w := doJSON(t, srv, http.MethodGet, "/api/v1/posts", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/auth/login", map[string]string{"code": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.RateLimit = 0.001
		cfg.Auth.RateBurst = 1
	})

	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, srv, http.MethodGet, "/health", nil).Code)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestStartAndShutdown(t *testing.T) {
	port := freePort(t)
	srv := buildTestServer(t, func(cfg *config.Config) {
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.Port = port
	})

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestShutdownRacingStart(t *testing.T) {
	srv := buildTestServer(t, func(cfg *config.Config) {
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.Port = freePort(t)
	})

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	// Shutdown may win before the listener opens; stop once more so Start cannot linger.
	_ = srv.Server.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
	srv.Janitor.Stop()
}
