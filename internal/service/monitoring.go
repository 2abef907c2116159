package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reelpost/internal/models"
)

const (
	LevelError = "ERROR"
	LevelWarn  = "WARN"
)

type MonitoringService struct {
	db     *gorm.DB
	jobs   *JobStore
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		jobs:   NewJobStore(db),
		logger: logger,
	}
}

// RecordError 记录错误日志
func (m *MonitoringService) RecordError(ctx context.Context, level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	// 应用选项
	for _, option := range options {
		option(errorLog)
	}

	if err := m.db.WithContext(ctx).Create(errorLog).Error; err != nil {
		return persistenceError(err, "failed to record error log")
	}
	return nil
}

// ErrorLogOption 错误日志选项
type ErrorLogOption func(*models.ErrorLog)

// WithJob 设置任务ID
func WithJob(jobID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.JobID = &jobID
	}
}

// WithAccount 设置账号ID
func WithAccount(accountID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.AccountID = &accountID
	}
}

// WithContext 设置上下文信息
func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = string(contextBytes)
		}
	}
}

// ListErrors 获取最近的错误日志
func (m *MonitoringService) ListErrors(ctx context.Context, unresolvedOnly bool, limit int) ([]models.ErrorLog, error) {
	query := m.db.WithContext(ctx).Order("created_at desc, id desc")
	if unresolvedOnly {
		query = query.Where("resolved = ?", false)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var logs []models.ErrorLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, persistenceError(err, "failed to list error logs")
	}
	return logs, nil
}

// ResolveError 标记错误已处理
func (m *MonitoringService) ResolveError(ctx context.Context, id uint) error {
	result := m.db.WithContext(ctx).Model(&models.ErrorLog{}).Where("id = ?", id).Update("resolved", true)
	if result.Error != nil {
		return persistenceError(result.Error, "failed to resolve error log")
	}
	if result.RowsAffected == 0 {
		return notFoundErrorf("error log %d not found", id)
	}
	return nil
}

// Stats 汇总仪表板数据；timers 为调度器当前登记的定时器数量
func (m *MonitoringService) Stats(ctx context.Context, timers int) (*models.Stats, error) {
	counts, err := m.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.Stats{
		PendingJobs:     counts[models.PostStatusPending],
		PostedJobs:      counts[models.PostStatusPosted],
		FailedJobs:      counts[models.PostStatusFailed],
		ScheduledTimers: timers,
	}

	db := m.db.WithContext(ctx)
	if err := db.Model(&models.Account{}).Count(&stats.TotalAccounts).Error; err != nil {
		return nil, persistenceError(err, "failed to count accounts")
	}
	if err := db.Model(&models.Account{}).Where("is_active = ?", true).Count(&stats.ActiveAccounts).Error; err != nil {
		return nil, persistenceError(err, "failed to count active accounts")
	}
	if err := db.Model(&models.ErrorLog{}).Where("resolved = ?", false).Count(&stats.UnresolvedErrors).Error; err != nil {
		return nil, persistenceError(err, "failed to count error logs")
	}

	// 最近一次成功发布时间
	var last []models.ScheduledPost
	err = db.Where("status = ?", models.PostStatusPosted).
		Order("posted_at desc").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return nil, persistenceError(err, "failed to load last post")
	}
	if len(last) == 1 {
		stats.LastPostAt = last[0].PostedAt
	}

	return stats, nil
}
