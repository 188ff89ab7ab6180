package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/activity"
	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/internal/scheduler"
	"agency-service/internal/security"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

// ReminderHandler serves reminder CRUD plus the cross-tenant processing
// endpoint used by the cron job.
type ReminderHandler struct {
	db         *gorm.DB
	events     *security.Recorder
	activity   *activity.Recorder
	processor  *scheduler.Processor
	cronSecret string
}

// NewReminderHandler creates the reminder handler
func NewReminderHandler(db *gorm.DB, events *security.Recorder, activity *activity.Recorder, processor *scheduler.Processor, cronSecret string) *ReminderHandler {
	return &ReminderHandler{
		db:         db,
		events:     events,
		activity:   activity,
		processor:  processor,
		cronSecret: cronSecret,
	}
}

// visible returns a query for the reminders the caller may see: the whole
// agency with the view-all capability, otherwise only reminders the caller
// created or is assigned.
func (h *ReminderHandler) visible(actx *authz.Context) *gorm.DB {
	query := h.db.Model(&model.Reminder{}).Where("agency_id = ?", actx.AgencyID)
	if !actx.Can(authz.CapViewAllReminders) {
		query = query.Where("creator_id = ? OR assignee_id = ?", actx.UserID, actx.UserID)
	}
	return query
}

// ListReminders returns the reminders visible to the caller
func (h *ReminderHandler) ListReminders(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordReminderOperation("list")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	query := h.visible(actx)
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var reminders []model.Reminder
	if err := query.Order("remind_at ASC, id ASC").Find(&reminders).Error; err != nil {
		log.Error("Failed to list reminders", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list reminders"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": reminders})
}

// CreateReminder creates a reminder in the caller's agency
func (h *ReminderHandler) CreateReminder(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordReminderOperation("create")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	var req struct {
		Title      string     `json:"title"`
		Body       string     `json:"body,omitempty"`
		RemindAt   *time.Time `json:"remind_at"`
		AssigneeID *uint      `json:"assignee_id,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse reminder creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "title is required"})
	}
	if req.RemindAt == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "remind_at is required"})
	}

	if req.AssigneeID != nil {
		var count int64
		err := h.db.Model(&model.Membership{}).
			Where("user_id = ? AND agency_id = ? AND status = ?", *req.AssigneeID, actx.AgencyID, model.MembershipActive).
			Count(&count).Error
		if err != nil {
			log.Error("Failed to verify assignee", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to create reminder"})
		}
		if count == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "assignee is not a member of this agency"})
		}
	}

	reminder := model.Reminder{
		AgencyID:   actx.AgencyID,
		CreatorID:  actx.UserID,
		AssigneeID: req.AssigneeID,
		Title:      req.Title,
		Body:       req.Body,
		RemindAt:   *req.RemindAt,
		Status:     model.ReminderPending,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := h.db.Create(&reminder).Error; err != nil {
		log.Error("Failed to create reminder", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to create reminder"})
	}

	h.activity.Log(actx, "created", "reminder", reminder.ID, reminder.Title)

	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": reminder})
}

// UpdateReminder updates a reminder visible to the caller
func (h *ReminderHandler) UpdateReminder(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordReminderOperation("update")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	var req struct {
		ID       uint       `json:"id"`
		Title    *string    `json:"title,omitempty"`
		Body     *string    `json:"body,omitempty"`
		RemindAt *time.Time `json:"remind_at,omitempty"`
		Status   *string    `json:"status,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse reminder update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.ID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "id is required"})
	}
	if req.Status != nil {
		switch *req.Status {
		case model.ReminderPending, model.ReminderSent, model.ReminderDismissed:
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid status"})
		}
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var reminder model.Reminder
	if err := h.visible(actx).Where("id = ?", req.ID).First(&reminder).Error; err != nil {
		log.Warn("Reminder not found for caller",
			zap.Uint("reminder_id", req.ID),
			zap.Uint("agency_id", actx.AgencyID))
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "reminder not found"})
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		if *req.Title == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "title cannot be empty"})
		}
		updates["title"] = *req.Title
	}
	if req.Body != nil {
		updates["body"] = *req.Body
	}
	if req.RemindAt != nil {
		updates["remind_at"] = *req.RemindAt
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}

	if len(updates) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "no fields to update"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := h.db.Model(&reminder).Updates(updates).Error; err != nil {
		log.Error("Failed to update reminder", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update reminder"})
	}

	h.activity.Log(actx, "updated", "reminder", reminder.ID, reminder.Title)

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": reminder})
}

// DeleteReminder deletes a reminder named by the id query parameter
func (h *ReminderHandler) DeleteReminder(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordReminderOperation("delete")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	id, err := strconv.ParseUint(c.QueryParam("id"), 10, 32)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "id is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var reminder model.Reminder
	if err := h.visible(actx).Where("id = ?", id).First(&reminder).Error; err != nil {
		log.Warn("Reminder not found for caller",
			zap.Uint64("reminder_id", id),
			zap.Uint("agency_id", actx.AgencyID))
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "reminder not found"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	if err := h.db.Delete(&reminder).Error; err != nil {
		log.Error("Failed to delete reminder", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to delete reminder"})
	}

	h.activity.Log(actx, "deleted", "reminder", reminder.ID, reminder.Title)

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "reminder deleted successfully"})
}

// ProcessReminders marks due pending reminders sent, across every agency.
// This is the one deliberately cross-tenant operation; it authenticates with
// the shared cron secret rather than a user session.
func (h *ReminderHandler) ProcessReminders(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordReminderOperation("process")

	secret := c.Request().Header.Get("X-Cron-Secret")
	if secret == "" {
		secret = c.QueryParam("secret")
	}
	if h.cronSecret == "" || secret != h.cronSecret {
		log.Warn("Reminder processing with invalid cron credential")
		prometheus.RecordAuthError("cron_auth_failed")
		h.events.Record(&model.SecurityEvent{
			EventType: security.EventCronAuthFailure,
			Severity:  security.SeverityHigh,
			Endpoint:  c.Request().Method + " /reminders/process",
			Detail:    "invalid or missing cron secret",
		})
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "authentication required"})
	}

	processed, err := h.processor.ProcessDue(time.Now())
	if err != nil {
		log.Error("Reminder processing failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "processing failed"})
	}

	log.Info("Reminders processed", zap.Int64("count", processed))
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    map[string]interface{}{"processed": processed},
	})
}
