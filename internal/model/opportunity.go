package model

import (
	"time"

	"gorm.io/gorm"
)

// Opportunity represents a cross-sell opportunity for an agency's book of
// business.
type Opportunity struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	AgencyID       uint           `json:"agency_id" gorm:"index;not null"`
	ContactName    string         `json:"contact_name" gorm:"type:varchar(255);not null"`
	ProductLine    string         `json:"product_line" gorm:"type:varchar(100)"` // 'auto', 'home', 'life', 'umbrella', ...
	Stage          string         `json:"stage" gorm:"type:varchar(50);default:'identified'"`
	EstimatedValue float64        `json:"estimated_value"`
	Notes          string         `json:"notes" gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}
