package service

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ifuryst/reelpost/internal/models"
	"github.com/ifuryst/reelpost/internal/service/publisher"
)

type SessionLoader interface {
	Load(ctx context.Context, username string) (*publisher.SessionArtifact, error)
}

type SessionValidator interface {
	ValidateSession(ctx context.Context, session *publisher.SessionArtifact) error
}

type SessionState int

const (
	SessionValid SessionState = iota
	SessionMissing
	SessionExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionMissing:
		return "missing"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// SessionVerdict is the gate's answer. Artifact is set only when State is SessionValid.
type SessionVerdict struct {
	State    SessionState
	Artifact *publisher.SessionArtifact
	Detail   string
}

// Err is nil for a valid session, otherwise an ErrSessionUnavailable carrying the detail.
func (v SessionVerdict) Err() error {
	if v.State == SessionValid {
		return nil
	}
	return errors.Mark(errors.Newf("session %s: %s", v.State, v.Detail), ErrSessionUnavailable)
}

// SessionGate checks that an account's stored session is present and still accepted.
// It never logs in; sessions are only created by `reelpost session create`.
type SessionGate struct {
	sessions  SessionLoader
	validator SessionValidator
	logger    *zap.Logger
}

func NewSessionGate(sessions SessionLoader, validator SessionValidator, logger *zap.Logger) *SessionGate {
	return &SessionGate{
		sessions:  sessions,
		validator: validator,
		logger:    logger,
	}
}

func (g *SessionGate) Validate(ctx context.Context, account *models.Account) SessionVerdict {
	artifact, err := g.sessions.Load(ctx, account.Username)
	if err != nil {
		return SessionVerdict{
			State:  SessionMissing,
			Detail: fmt.Sprintf("cannot read session for %s: %v", account.Username, err),
		}
	}
	if artifact == nil {
		return SessionVerdict{
			State:  SessionMissing,
			Detail: fmt.Sprintf("no session for %s; create one with `reelpost session create %s`", account.Username, account.Username),
		}
	}

	if err := g.validator.ValidateSession(ctx, artifact); err != nil {
		g.logger.Warn("Session rejected",
			zap.String("username", account.Username),
			zap.Error(err))
		return SessionVerdict{
			State:  SessionExpired,
			Detail: fmt.Sprintf("session for %s is no longer accepted: %v", account.Username, err),
		}
	}

	return SessionVerdict{State: SessionValid, Artifact: artifact}
}
