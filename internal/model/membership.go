package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"agency-service/internal/authz"
)

// Membership status values
const (
	MembershipActive  = "active"
	MembershipInvited = "invited"
	MembershipRevoked = "revoked"
)

// Membership is the join between a user and an agency. It is the row the
// authorization layer consults on every request.
type Membership struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	UserID      uint           `json:"user_id" gorm:"not null;uniqueIndex:idx_member_user_agency"`
	AgencyID    uint           `json:"agency_id" gorm:"not null;uniqueIndex:idx_member_user_agency"`
	Role        string         `json:"role" gorm:"type:varchar(20);not null;default:'staff'"` // 'owner', 'manager', 'staff'
	Status      string         `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	Permissions string         `json:"-" gorm:"type:text"` // JSON capability override; empty means role defaults
	IsDefault   bool           `json:"is_default" gorm:"default:false"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	User   User   `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Agency Agency `json:"agency,omitempty" gorm:"foreignKey:AgencyID"`
}

// EffectivePermissions returns the membership's capability set: the stored
// per-membership override when present, otherwise the role defaults.
func (m *Membership) EffectivePermissions() authz.PermissionSet {
	if m.Permissions != "" {
		var perms authz.PermissionSet
		if err := json.Unmarshal([]byte(m.Permissions), &perms); err == nil {
			return perms
		}
	}
	return authz.DefaultPermissions(authz.Role(m.Role))
}

// SetPermissions stores a capability override on the membership
func (m *Membership) SetPermissions(perms authz.PermissionSet) error {
	raw, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	m.Permissions = string(raw)
	return nil
}
