package models

import "time"

// DLQRecordModel persists one event-bus dead-letter entry across restarts.
type DLQRecordModel struct {
	ID         uint   `gorm:"primaryKey"`
	EventID    string `gorm:"index;size:64"`
	EventType  string `gorm:"index;size:128"`
	EventJSON  string `gorm:"type:text"`
	LastError  string `gorm:"size:1024"`
	RetryCount int
	FailedAt   time.Time `gorm:"index"`
}

func (DLQRecordModel) TableName() string { return "dlq_records" }

// GoalCounterModel persists a goal's rate-limit window counters so they
// survive a process restart instead of resetting to zero.
type GoalCounterModel struct {
	GoalID             string `gorm:"primaryKey;size:128"`
	LastTriggered      time.Time
	ExecutionsThisHour int
	HourReset          time.Time
	ExecutionsToday    int
	DayReset           time.Time
	UpdatedAt          time.Time
}

func (GoalCounterModel) TableName() string { return "goal_counters" }
