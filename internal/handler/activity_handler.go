package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

// ActivityHandler serves the agency activity feed
type ActivityHandler struct {
	db *gorm.DB
}

// NewActivityHandler creates the activity feed handler
func NewActivityHandler(db *gorm.DB) *ActivityHandler {
	return &ActivityHandler{db: db}
}

// ListActivity returns recent activity for the caller's agency, newest first.
// The route is restricted to owners and managers.
func (h *ActivityHandler) ListActivity(c echo.Context) error {
	log := logger.FromEcho(c)

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid limit"})
		}
		limit = parsed
	}
	if limit > 200 {
		limit = 200
	}

	query := h.db.Where("agency_id = ?", actx.AgencyID)
	if entityType := c.QueryParam("entity_type"); entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var entries []model.ActivityLog
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error; err != nil {
		log.Error("Failed to list activity", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list activity"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": entries})
}
