package models

import "time"

// ActionRecordModel persists one outcome of an autonomous action, the raw
// material the learning store uses to compute ConfidenceScore.
type ActionRecordModel struct {
	ID           uint   `gorm:"primaryKey"`
	ActionID     string `gorm:"index;size:64"`
	ActionType   string `gorm:"index;size:128"`
	GoalID       string `gorm:"index;size:128"`
	Context      string `gorm:"size:1024"`
	Success      bool
	DurationMs   int64
	ErrorMessage string `gorm:"size:1024"`
	CreatedAt    time.Time `gorm:"index"`
}

func (ActionRecordModel) TableName() string { return "action_records" }
