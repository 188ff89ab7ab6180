package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/activity"
	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

// ContactHandler serves the client contact history log
type ContactHandler struct {
	db       *gorm.DB
	activity *activity.Recorder
}

// NewContactHandler creates the contact history handler
func NewContactHandler(db *gorm.DB, activity *activity.Recorder) *ContactHandler {
	return &ContactHandler{db: db, activity: activity}
}

// ListContacts returns the agency's contact history, most recent first
func (h *ContactHandler) ListContacts(c echo.Context) error {
	log := logger.FromEcho(c)

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	query := h.db.Where("agency_id = ?", actx.AgencyID)
	if contactName := c.QueryParam("contact_name"); contactName != "" {
		query = query.Where("contact_name = ?", contactName)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var entries []model.ContactHistory
	if err := query.Order("occurred_at DESC, id DESC").Find(&entries).Error; err != nil {
		log.Error("Failed to list contact history", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list contact history"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": entries})
}

// CreateContact records a client touchpoint in the caller's agency
func (h *ContactHandler) CreateContact(c echo.Context) error {
	log := logger.FromEcho(c)

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	var req struct {
		ContactName string     `json:"contact_name"`
		Channel     string     `json:"channel"`
		Note        string     `json:"note,omitempty"`
		OccurredAt  *time.Time `json:"occurred_at,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse contact creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.ContactName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "contact_name is required"})
	}

	occurredAt := time.Now()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	entry := model.ContactHistory{
		AgencyID:    actx.AgencyID,
		UserID:      actx.UserID,
		ContactName: req.ContactName,
		Channel:     req.Channel,
		Note:        req.Note,
		OccurredAt:  occurredAt,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := h.db.Create(&entry).Error; err != nil {
		log.Error("Failed to create contact history entry", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to record contact"})
	}

	h.activity.Log(actx, "contacted", "client", entry.ID, entry.ContactName)

	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": entry})
}
