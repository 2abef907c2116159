package service

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

const (
	AuthCookie      = "auth_token"
	defaultTokenTTL = 24 * time.Hour
)

// AuthService guards the admin API with a TOTP login. An empty secret disables it.
type AuthService struct {
	logger     *zap.Logger
	totpSecret string
	ttl        time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
}

func NewAuthService(logger *zap.Logger, totpSecret string) *AuthService {
	return &AuthService{
		logger:     logger,
		totpSecret: totpSecret,
		ttl:        defaultTokenTTL,
		now:        time.Now,
		sessions:   make(map[string]time.Time),
	}
}

func (a *AuthService) Enabled() bool {
	return a.totpSecret != ""
}

// GenerateSecret returns a fresh TOTP secret and its otpauth:// URL for authenticator apps.
func GenerateSecret(accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Reelpost",
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

func (a *AuthService) ValidateCode(code string) bool {
	valid := totp.Validate(code, a.totpSecret)
	if valid {
		a.logger.Info("TOTP code validation successful")
	} else {
		a.logger.Warn("TOTP code validation failed")
	}
	return valid
}

// Login exchanges a valid TOTP code for a session token.
func (a *AuthService) Login(code string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, invalidStateErrorf("authentication is not configured")
	}
	if !a.ValidateCode(strings.TrimSpace(code)) {
		return "", time.Time{}, validationErrorf("invalid verification code")
	}

	token := uuid.NewString()
	expires := a.now().Add(a.ttl)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked()
	a.sessions[token] = expires
	return token, expires, nil
}

func (a *AuthService) isValidSession(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	expires, ok := a.sessions[token]
	if !ok {
		return false
	}
	if !a.now().Before(expires) {
		delete(a.sessions, token)
		return false
	}
	return true
}

func (a *AuthService) pruneLocked() {
	now := a.now()
	for token, expires := range a.sessions {
		if !now.Before(expires) {
			delete(a.sessions, token)
		}
	}
}

func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() ||
			c.Request.URL.Path == "/api/v1/auth/login" ||
			c.Request.URL.Path == "/api/v1/health" {
			c.Next()
			return
		}

		token, err := c.Cookie(AuthCookie)
		if err != nil || token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		if token == "" || !a.isValidSession(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		c.Next()
	}
}
