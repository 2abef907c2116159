package publisher

import (
	"context"
	"encoding/json"
	"time"
)

// SessionArtifact is the serialized login state of an account.
// It is produced out of band by the human-driven login flow and only read by the executor.
type SessionArtifact struct {
	Username  string          `json:"username"`
	Settings  json.RawMessage `json:"settings"`
	CreatedAt time.Time       `json:"created_at"`
}

// PublishRequest is the assembled payload for one post.
type PublishRequest struct {
	Username   string           `json:"username"`
	Session    *SessionArtifact `json:"session"`
	ContentURL string           `json:"content_url"`
	Caption    string           `json:"caption"`
}

// PublishResult is the platform's receipt for a published post.
type PublishResult struct {
	MediaID string `json:"media_id"`
	Code    string `json:"code,omitempty"`
	URL     string `json:"url,omitempty"`
}

// LoginRequest drives the interactive session creation flow.
type LoginRequest struct {
	Username string         `json:"username"`
	Password string         `json:"password"`
	Device   *DeviceProfile `json:"device"`
	// Code is the verification code for a second attempt after TwoFactorRequired.
	Code string `json:"code,omitempty"`
}

type LoginOutcome string

const (
	LoginOK                LoginOutcome = "ok"
	LoginBadCredentials    LoginOutcome = "bad_credentials"
	LoginChallengeRequired LoginOutcome = "challenge_required"
	LoginTwoFactorRequired LoginOutcome = "two_factor_required"
	LoginRateLimited       LoginOutcome = "rate_limited"
)

// LoginResult is the tagged result of a login attempt. Session is set only for LoginOK.
type LoginResult struct {
	Outcome LoginOutcome
	Session *SessionArtifact
	Detail  string
}

func (r LoginResult) OK() bool {
	return r.Outcome == LoginOK && r.Session != nil
}

// Client is the external publishing platform.
// Publish returns (nil, nil) when the platform accepted the call but produced no media.
type Client interface {
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
	ValidateSession(ctx context.Context, session *SessionArtifact) error
	Login(ctx context.Context, req LoginRequest) (LoginResult, error)
}
