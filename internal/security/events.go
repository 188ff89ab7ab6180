package security

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/model"
	"agency-service/prometheus"
)

// Event types
const (
	EventIDORAttempt         = "idor_attempt"
	EventPrivilegeEscalation = "privilege_escalation"
	EventOrphanedAgency      = "orphaned_agency"
	EventCronAuthFailure     = "cron_auth_failure"
)

// Severity levels
const (
	SeverityInfo     = "info"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Recorder writes security events for offline audit. Writes are deliberately
// non-fatal: audit-trail completeness must never block the primary operation,
// so failures are logged and swallowed.
type Recorder struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewRecorder creates a security event recorder
func NewRecorder(db *gorm.DB, log *zap.Logger) *Recorder {
	return &Recorder{db: db, log: log}
}

// Record persists a security event and mirrors it to the log
func (r *Recorder) Record(event *model.SecurityEvent) {
	prometheus.RecordSecurityEvent(event.EventType, event.Severity)

	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("severity", event.Severity),
		zap.Uint("user_id", event.UserID),
		zap.String("user_name", event.UserName),
		zap.Uint("agency_id", event.AgencyID),
		zap.String("endpoint", event.Endpoint),
		zap.String("detail", event.Detail),
	}

	switch event.Severity {
	case SeverityCritical:
		r.log.Error("Security event", fields...)
	case SeverityHigh:
		r.log.Warn("Security event", fields...)
	default:
		r.log.Info("Security event", fields...)
	}

	if err := r.db.Create(event).Error; err != nil {
		r.log.Error("Failed to persist security event",
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}

// RecordIDORAttempt records a path/session agency id mismatch. Both ids are
// kept so audits can see what the caller probed for.
func (r *Recorder) RecordIDORAttempt(userID uint, userName string, sessionAgencyID, pathAgencyID uint, endpoint string) {
	r.Record(&model.SecurityEvent{
		EventType:    EventIDORAttempt,
		Severity:     SeverityHigh,
		UserID:       userID,
		UserName:     userName,
		AgencyID:     sessionAgencyID,
		PathAgencyID: pathAgencyID,
		Endpoint:     endpoint,
		Detail:       "URL agency id does not match session agency id",
	})
}

// RecordPrivilegeEscalation records an attempt to grant or revoke a role
// beyond the caller's authority.
func (r *Recorder) RecordPrivilegeEscalation(userID uint, userName string, agencyID uint, attemptedRole, actualRole, endpoint string) {
	r.Record(&model.SecurityEvent{
		EventType:     EventPrivilegeEscalation,
		Severity:      SeverityCritical,
		UserID:        userID,
		UserName:      userName,
		AgencyID:      agencyID,
		AttemptedRole: attemptedRole,
		ActualRole:    actualRole,
		Endpoint:      endpoint,
		Detail:        "attempted role operation beyond caller authority",
	})
}
