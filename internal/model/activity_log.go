package model

import "time"

// ActivityLog is an append-only feed entry describing a mutation within an
// agency. Writes are non-fatal: a failed log write never rolls back the
// operation it describes.
type ActivityLog struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	AgencyID   uint      `json:"agency_id" gorm:"index;not null"`
	UserID     uint      `json:"user_id" gorm:"index"`
	UserName   string    `json:"user_name" gorm:"type:varchar(100)"`
	Action     string    `json:"action" gorm:"type:varchar(50);not null"` // 'created', 'updated', 'deleted', 'reordered', ...
	EntityType string    `json:"entity_type" gorm:"type:varchar(50);not null"`
	EntityID   uint      `json:"entity_id"`
	Detail     string    `json:"detail" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}
