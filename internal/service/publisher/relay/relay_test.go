package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/reelpost/internal/config"
	"github.com/ifuryst/reelpost/internal/service/publisher"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.PublisherConfig{RelayURL: srv.URL, APIToken: "tok", Timeout: "5s"}, zap.NewNop())
}

func TestPublish_ReturnsMedia(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clip/upload", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req publisher.PublishRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice", req.Username)
		assert.Equal(t, "hi\n\n#x", req.Caption)

		_, _ = w.Write([]byte(`{"media":{"media_id":"123","code":"abc"}}`))
	})

	result, err := client.Publish(context.Background(), publisher.PublishRequest{
		Username:   "alice",
		ContentURL: "file:///tmp/a.mp4",
		Caption:    "hi\n\n#x",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "123", result.MediaID)
}

func TestPublish_NullMedia(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"media":null}`))
	})

	result, err := client.Publish(context.Background(), publisher.PublishRequest{Username: "alice"})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestPublish_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream timeout", http.StatusBadGateway)
	})

	_, err := client.Publish(context.Background(), publisher.PublishRequest{Username: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestValidateSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Username == "expired" {
			http.Error(w, "login_required", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	ctx := context.Background()
	require.NoError(t, client.ValidateSession(ctx, &publisher.SessionArtifact{Username: "alice", Settings: json.RawMessage(`{}`)}))

	err := client.ValidateSession(ctx, &publisher.SessionArtifact{Username: "expired", Settings: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrSessionRejected)
	assert.Contains(t, err.Error(), "login_required")

	assert.Error(t, client.ValidateSession(ctx, nil))
}

func TestLogin_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		outcome publisher.LoginOutcome
		ok      bool
	}{
		{name: "ok", body: `{"status":"ok","settings":{"cookie":"x"}}`, outcome: publisher.LoginOK, ok: true},
		{name: "two factor", body: `{"status":"two_factor_required"}`, outcome: publisher.LoginTwoFactorRequired},
		{name: "challenge", body: `{"status":"challenge_required","detail":"email"}`, outcome: publisher.LoginChallengeRequired},
		{name: "rate limited", body: `{"status":"rate_limited"}`, outcome: publisher.LoginRateLimited},
		{name: "unknown", body: `{"status":"weird"}`, outcome: publisher.LoginBadCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			result, err := client.Login(context.Background(), publisher.LoginRequest{Username: "alice", Password: "pw"})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.ok, result.OK())
			if tt.ok {
				assert.Equal(t, "alice", result.Session.Username)
				assert.JSONEq(t, `{"cookie":"x"}`, string(result.Session.Settings))
			}
		})
	}
}
