package activity

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/authz"
	"agency-service/internal/model"
)

// Recorder writes activity feed entries. Like security events, activity
// writes are non-fatal: a failed write is logged and never surfaced to the
// caller.
type Recorder struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewRecorder creates an activity recorder
func NewRecorder(db *gorm.DB, log *zap.Logger) *Recorder {
	return &Recorder{db: db, log: log}
}

// Log records an action performed within the caller's agency context
func (r *Recorder) Log(actx *authz.Context, action, entityType string, entityID uint, detail string) {
	entry := model.ActivityLog{
		AgencyID:   actx.AgencyID,
		UserID:     actx.UserID,
		UserName:   actx.UserName,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	}

	if err := r.db.Create(&entry).Error; err != nil {
		r.log.Error("Failed to write activity log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.Uint("entity_id", entityID),
			zap.Error(err))
	}
}
