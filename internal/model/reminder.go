package model

import (
	"time"

	"gorm.io/gorm"
)

// Reminder status values
const (
	ReminderPending   = "pending"
	ReminderSent      = "sent"
	ReminderDismissed = "dismissed"
)

// Reminder represents a reminder scoped to an agency. Access is additionally
// gated by creator/assignee identity unless the caller can view all reminders.
type Reminder struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	AgencyID   uint           `json:"agency_id" gorm:"index;not null"`
	CreatorID  uint           `json:"creator_id" gorm:"index;not null"`
	AssigneeID *uint          `json:"assignee_id,omitempty" gorm:"index"`
	Title      string         `json:"title" gorm:"type:varchar(255);not null"`
	Body       string         `json:"body" gorm:"type:text"`
	RemindAt   time.Time      `json:"remind_at" gorm:"index;not null"`
	Status     string         `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}
