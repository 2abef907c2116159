package service

import (
	"context"

	"gorm.io/gorm"

	"github.com/ifuryst/reelpost/internal/models"
)

// ScheduleConfigPatch carries the fields to change; nil fields are left alone.
type ScheduleConfigPatch struct {
	IntervalHours *int  `json:"interval_hours"`
	Active        *bool `json:"active"`
}

type ScheduleConfigService struct {
	db *gorm.DB
}

func NewScheduleConfigService(db *gorm.DB) *ScheduleConfigService {
	return &ScheduleConfigService{db: db}
}

// Get returns the single config row, creating the default one on first use.
func (s *ScheduleConfigService) Get(ctx context.Context) (*models.ScheduleConfig, error) {
	return s.load(s.db.WithContext(ctx))
}

func (s *ScheduleConfigService) Update(ctx context.Context, patch ScheduleConfigPatch) (*models.ScheduleConfig, error) {
	if patch.IntervalHours != nil && *patch.IntervalHours < 1 {
		return nil, validationErrorf("interval_hours must be at least 1, got %d", *patch.IntervalHours)
	}

	var cfg *models.ScheduleConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if cfg, err = s.load(tx); err != nil {
			return err
		}
		if patch.IntervalHours != nil {
			cfg.IntervalHours = *patch.IntervalHours
		}
		if patch.Active != nil {
			cfg.Active = *patch.Active
		}
		if err := tx.Save(cfg).Error; err != nil {
			return persistenceError(err, "failed to save schedule config")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *ScheduleConfigService) load(db *gorm.DB) (*models.ScheduleConfig, error) {
	var cfgs []models.ScheduleConfig
	if err := db.Order("id").Limit(1).Find(&cfgs).Error; err != nil {
		return nil, persistenceError(err, "failed to load schedule config")
	}
	if len(cfgs) == 1 {
		return &cfgs[0], nil
	}

	cfg := &models.ScheduleConfig{IntervalHours: 1, Active: true}
	if err := db.Create(cfg).Error; err != nil {
		return nil, persistenceError(err, "failed to create schedule config")
	}
	return cfg, nil
}
