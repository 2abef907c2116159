// Package relay talks to the platform relay: a sidecar that owns the platform's
// wire protocol and exposes upload, session check and login over JSON.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/reelpost/internal/config"
	"github.com/ifuryst/reelpost/internal/service/publisher"
)

// ErrSessionRejected means the platform no longer accepts the stored session.
var ErrSessionRejected = errors.New("session rejected by platform")

type Client struct {
	baseURL string
	token   string
	logger  *zap.Logger
	client  *http.Client
}

var _ publisher.Client = (*Client)(nil)

func NewClient(cfg *config.PublisherConfig, logger *zap.Logger) *Client {
	tr := &http.Transport{
		IdleConnTimeout:       120 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		TLSHandshakeTimeout:   20 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout(),
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.RelayURL, "/"),
		token:   cfg.APIToken,
		logger:  logger,
		client: &http.Client{
			Transport: tr,
			Timeout:   cfg.RequestTimeout(),
		},
	}
}

type uploadResponse struct {
	Media *publisher.PublishResult `json:"media"`
}

func (c *Client) Publish(ctx context.Context, req publisher.PublishRequest) (*publisher.PublishResult, error) {
	var response uploadResponse
	status, body, err := c.post(ctx, "/clip/upload", req, &response)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("relay returned status %d: %s", status, body)
	}

	c.logger.Debug("Relay upload finished",
		zap.String("username", req.Username),
		zap.Bool("has_media", response.Media != nil))

	return response.Media, nil
}

type sessionRequest struct {
	Username string          `json:"username"`
	Settings json.RawMessage `json:"settings"`
}

func (c *Client) ValidateSession(ctx context.Context, session *publisher.SessionArtifact) error {
	if session == nil {
		return errors.New("no session to validate")
	}
	status, body, err := c.post(ctx, "/session/validate", sessionRequest{
		Username: session.Username,
		Settings: session.Settings,
	}, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrSessionRejected, body)
	default:
		return fmt.Errorf("relay returned status %d: %s", status, body)
	}
}

type loginResponse struct {
	Status   string          `json:"status"`
	Detail   string          `json:"detail"`
	Settings json.RawMessage `json:"settings"`
}

func (c *Client) Login(ctx context.Context, req publisher.LoginRequest) (publisher.LoginResult, error) {
	var response loginResponse
	status, body, err := c.post(ctx, "/auth/login", req, &response)
	if err != nil {
		return publisher.LoginResult{}, err
	}
	if status != http.StatusOK {
		return publisher.LoginResult{}, fmt.Errorf("relay returned status %d: %s", status, body)
	}
	return toLoginResult(req.Username, response), nil
}

func toLoginResult(username string, response loginResponse) publisher.LoginResult {
	outcome := publisher.LoginOutcome(response.Status)
	switch outcome {
	case publisher.LoginOK:
		return publisher.LoginResult{
			Outcome: outcome,
			Session: &publisher.SessionArtifact{
				Username:  username,
				Settings:  response.Settings,
				CreatedAt: time.Now().UTC(),
			},
		}
	case publisher.LoginBadCredentials, publisher.LoginChallengeRequired,
		publisher.LoginTwoFactorRequired, publisher.LoginRateLimited:
		return publisher.LoginResult{Outcome: outcome, Detail: response.Detail}
	default:
		return publisher.LoginResult{
			Outcome: publisher.LoginBadCredentials,
			Detail:  fmt.Sprintf("unknown login status %q: %s", response.Status, response.Detail),
		}
	}
}

// post sends a JSON body and decodes a 200 response into out when out is not nil.
// Non-200 bodies are returned as text for the caller's error message.
func (c *Client) post(ctx context.Context, path string, payload any, out any) (int, string, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, strings.TrimSpace(string(body)), nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, "", fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, "", nil
}
