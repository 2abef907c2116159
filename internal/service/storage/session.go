package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/ifuryst/reelpost/internal/service/publisher"
)

// SessionStore keeps one session_<username>.json per account.
type SessionStore struct {
	fs      afs.Service
	baseURL string
}

func NewSessionStore(fs afs.Service, baseURL string) *SessionStore {
	return &SessionStore{fs: fs, baseURL: normalizeBase(baseURL)}
}

func (s *SessionStore) location(username string) string {
	return url.Join(s.baseURL, "session_"+username+".json")
}

// Load returns nil without error when no session exists for the username.
func (s *SessionStore) Load(ctx context.Context, username string) (*publisher.SessionArtifact, error) {
	location := s.location(username)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check session for %s: %w", username, err)
	}
	if !exists {
		return nil, nil
	}

	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read session for %s: %w", username, err)
	}

	var artifact publisher.SessionArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode session for %s: %w", username, err)
	}
	if artifact.Username == "" {
		artifact.Username = username
	}
	return &artifact, nil
}

// Save is used only by the interactive login flow.
func (s *SessionStore) Save(ctx context.Context, artifact *publisher.SessionArtifact) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.fs.Upload(ctx, s.location(artifact.Username), 0o600, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write session for %s: %w", artifact.Username, err)
	}
	return nil
}
