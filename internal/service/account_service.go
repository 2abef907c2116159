package service

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reelpost/internal/models"
	"github.com/ifuryst/reelpost/pkg/secret"
)

// ContentStore is the opaque home of post payloads.
type ContentStore interface {
	Exists(ctx context.Context, locator string) (bool, error)
	Delete(ctx context.Context, locator string) error
}

type AccountService struct {
	db      *gorm.DB
	box     *secret.Box
	content ContentStore
	logger  *zap.Logger
}

func NewAccountService(db *gorm.DB, box *secret.Box, content ContentStore, logger *zap.Logger) *AccountService {
	return &AccountService{
		db:      db,
		box:     box,
		content: content,
		logger:  logger,
	}
}

func (s *AccountService) Create(ctx context.Context, username, password string, active bool) (*models.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, validationErrorf("username and password are required")
	}
	if len(username) > 100 {
		return nil, validationErrorf("username exceeds 100 characters")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Account{}).Where("username = ?", username).Count(&existing).Error; err != nil {
		return nil, persistenceError(err, "failed to check username")
	}
	if existing > 0 {
		return nil, validationErrorf("account with username %s already exists", username)
	}

	sealed, err := s.box.Seal(password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt password")
	}

	account := &models.Account{
		Username: username,
		Secret:   sealed,
		IsActive: active,
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, persistenceError(err, "failed to create account")
	}

	s.logger.Info("Account created", zap.Uint("account_id", account.ID), zap.String("username", username))
	return account, nil
}

func (s *AccountService) Get(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErrorf("account %d not found", id)
		}
		return nil, persistenceError(err, "failed to load account")
	}
	return &account, nil
}

func (s *AccountService) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErrorf("account %s not found", username)
		}
		return nil, persistenceError(err, "failed to load account")
	}
	return &account, nil
}

func (s *AccountService) List(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.WithContext(ctx).Order("id").Find(&accounts).Error; err != nil {
		return nil, persistenceError(err, "failed to list accounts")
	}
	return accounts, nil
}

func (s *AccountService) SetActive(ctx context.Context, id uint, active bool) error {
	result := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Update("is_active", active)
	if result.Error != nil {
		return persistenceError(result.Error, "failed to update account")
	}
	if result.RowsAffected == 0 {
		return notFoundErrorf("account %d not found", id)
	}
	return nil
}

// TouchLastPost is the only account write the executor performs.
func (s *AccountService) TouchLastPost(ctx context.Context, id uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Update("last_post_at", at).Error
	if err != nil {
		return persistenceError(err, "failed to update last post time")
	}
	return nil
}

// Password decrypts the stored secret for the interactive login flow.
func (s *AccountService) Password(account *models.Account) (string, error) {
	return s.box.Open(account.Secret)
}

// Delete refuses accounts with pending posts; otherwise their posts go with them
// and any content still held by those posts is released.
func (s *AccountService) Delete(ctx context.Context, id uint) error {
	var locators []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.First(&account, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundErrorf("account %d not found", id)
			}
			return persistenceError(err, "failed to load account")
		}

		pending, err := NewJobStore(tx).CountPendingForAccount(ctx, id)
		if err != nil {
			return err
		}
		if pending > 0 {
			return invalidStateErrorf("cannot delete account %s with %d pending posts", account.Username, pending)
		}

		var posts []models.ScheduledPost
		if err := tx.Where("account_id = ?", id).Find(&posts).Error; err != nil {
			return persistenceError(err, "failed to load account posts")
		}
		for _, post := range posts {
			if post.Status != models.PostStatusPosted {
				locators = append(locators, post.ContentLocator)
			}
		}

		if err := tx.Where("account_id = ?", id).Delete(&models.ScheduledPost{}).Error; err != nil {
			return persistenceError(err, "failed to delete account posts")
		}
		if err := tx.Delete(&account).Error; err != nil {
			return persistenceError(err, "failed to delete account")
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, locator := range locators {
		if err := s.content.Delete(ctx, locator); err != nil {
			s.logger.Warn("Failed to release content", zap.String("locator", locator), zap.Error(err))
		}
	}

	s.logger.Info("Account deleted", zap.Uint("account_id", id), zap.Int("released_content", len(locators)))
	return nil
}
