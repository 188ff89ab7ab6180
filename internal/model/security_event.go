package model

import "time"

// SecurityEvent records an authorization anomaly for offline audit and
// alerting: IDOR attempts, privilege escalations, cron auth failures and
// data-integrity anomalies.
type SecurityEvent struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	EventType     string    `json:"event_type" gorm:"type:varchar(50);index;not null"`
	Severity      string    `json:"severity" gorm:"type:varchar(20);index;not null"`
	UserID        uint      `json:"user_id" gorm:"index"`
	UserName      string    `json:"user_name" gorm:"type:varchar(100)"`
	AgencyID      uint      `json:"agency_id" gorm:"index"`
	PathAgencyID  uint      `json:"path_agency_id"` // agency id supplied in the URL, when it differs
	AttemptedRole string    `json:"attempted_role" gorm:"type:varchar(20)"`
	ActualRole    string    `json:"actual_role" gorm:"type:varchar(20)"`
	Endpoint      string    `json:"endpoint" gorm:"type:varchar(255)"`
	Detail        string    `json:"detail" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
}
