package model

import (
	"time"

	"gorm.io/gorm"
)

// Agency represents a tenant boundary. Every scoped resource carries an
// agency id foreign key back to this table.
type Agency struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	Name             string         `json:"name" gorm:"type:varchar(100);not null"`
	Slug             string         `json:"slug" gorm:"type:varchar(50);uniqueIndex"`
	PrimaryColor     string         `json:"primary_color" gorm:"type:varchar(20)"`
	SecondaryColor   string         `json:"secondary_color" gorm:"type:varchar(20)"`
	SubscriptionTier string         `json:"subscription_tier" gorm:"type:varchar(20);default:'free'"`
	MaxUsers         int            `json:"max_users"`
	MaxStorageMB     int            `json:"max_storage_mb"`
	Active           bool           `json:"active" gorm:"default:true"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`
}
