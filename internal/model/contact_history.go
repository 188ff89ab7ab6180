package model

import "time"

// ContactHistory records a touchpoint with a client contact within an agency
type ContactHistory struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	AgencyID    uint      `json:"agency_id" gorm:"index;not null"`
	UserID      uint      `json:"user_id" gorm:"index;not null"`
	ContactName string    `json:"contact_name" gorm:"type:varchar(255);not null"`
	Channel     string    `json:"channel" gorm:"type:varchar(50)"` // 'phone', 'email', 'sms', 'in_person'
	Note        string    `json:"note" gorm:"type:text"`
	OccurredAt  time.Time `json:"occurred_at" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
