package models

import (
	"time"
)

type PostStatus string

const (
	PostStatusPending PostStatus = "pending"
	PostStatusPosted  PostStatus = "posted"
	PostStatusFailed  PostStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s PostStatus) Terminal() bool {
	return s == PostStatusPosted || s == PostStatusFailed
}

func (s PostStatus) Valid() bool {
	return s == PostStatusPending || s.Terminal()
}

const (
	MaxCaptionLength = 2200
	MaxTagsLength    = 500
	MaxErrorLength   = 500
)

// ScheduledPost is one scheduled publish attempt with a due time and a terminal outcome.
type ScheduledPost struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	AccountID      uint       `gorm:"not null;index" json:"account_id"`
	ContentLocator string     `gorm:"size:1000;not null" json:"content_locator"`
	Caption        string     `gorm:"type:text" json:"caption"`
	Tags           string     `gorm:"size:500" json:"tags"`
	ScheduledAt    time.Time  `gorm:"not null;index" json:"scheduled_at"`
	Status         PostStatus `gorm:"size:20;not null;index" json:"status"`
	PostedAt       *time.Time `json:"posted_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	Error          string     `gorm:"size:500" json:"error"`
	ClaimToken     string     `gorm:"size:36;index" json:"-"`
	ClaimedAt      *time.Time `json:"-"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// JobSummary is the listing view of a scheduled post.
type JobSummary struct {
	ID              uint       `json:"id"`
	AccountID       uint       `json:"account_id"`
	AccountUsername string     `json:"account_username"`
	ContentLocator  string     `json:"content_locator"`
	Caption         string     `json:"caption"`
	Tags            string     `json:"tags"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	Status          PostStatus `json:"status"`
	PostedAt        *time.Time `json:"posted_at"`
	Error           string     `json:"error,omitempty"`
}
