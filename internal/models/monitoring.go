package models

import (
	"time"
)

// ErrorLog 错误日志表
type ErrorLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;not null;index" json:"level"`   // ERROR, WARN
	Source    string    `gorm:"size:100;not null;index" json:"source"` // executor, janitor
	JobID     *uint     `gorm:"index" json:"job_id"`
	AccountID *uint     `gorm:"index" json:"account_id"`
	Title     string    `gorm:"size:500;not null" json:"title"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Context   string    `gorm:"type:text" json:"context"`
	Resolved  bool      `gorm:"not null;index" json:"resolved"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// Stats 仪表板汇总信息
type Stats struct {
	PendingJobs      int64      `json:"pending_jobs"`
	PostedJobs       int64      `json:"posted_jobs"`
	FailedJobs       int64      `json:"failed_jobs"`
	ActiveAccounts   int64      `json:"active_accounts"`
	TotalAccounts    int64      `json:"total_accounts"`
	UnresolvedErrors int64      `json:"unresolved_errors"`
	LastPostAt       *time.Time `json:"last_post_at"`
	ScheduledTimers  int        `json:"scheduled_timers"`
}
