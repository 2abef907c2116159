package models

// ScheduleConfig is the process-wide posting cadence. Only one row exists.
type ScheduleConfig struct {
	ID            uint `gorm:"primaryKey" json:"-"`
	IntervalHours int  `gorm:"not null" json:"interval_hours"`
	Active        bool `gorm:"not null" json:"active"`
}
