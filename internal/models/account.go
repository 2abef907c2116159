package models

import (
	"time"
)

// Account is a credential holder on the publishing platform.
// Session material lives in the session store keyed by username, never here.
type Account struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Username   string     `gorm:"uniqueIndex;not null;size:100" json:"username"`
	Secret     string     `gorm:"type:text;not null" json:"-"`
	IsActive   bool       `gorm:"not null" json:"is_active"`
	LastPostAt *time.Time `json:"last_post_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
