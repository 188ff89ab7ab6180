package model

import (
	"time"

	"gorm.io/gorm"
)

// Todo represents a task scoped to an agency. Notes and Transcription are
// encrypted at rest by the handler layer before persistence.
type Todo struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	AgencyID      uint           `json:"agency_id" gorm:"index;not null"`
	CreatorID     uint           `json:"creator_id" gorm:"index;not null"`
	AssigneeID    *uint          `json:"assignee_id,omitempty" gorm:"index"`
	Title         string         `json:"title" gorm:"type:varchar(255);not null"`
	Notes         string         `json:"notes" gorm:"type:text"`
	Transcription string         `json:"transcription" gorm:"type:text"`
	Status        string         `json:"status" gorm:"type:varchar(20);default:'open'"`
	Priority      string         `json:"priority" gorm:"type:varchar(20);default:'normal'"`
	Position      int            `json:"position" gorm:"index"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
}
