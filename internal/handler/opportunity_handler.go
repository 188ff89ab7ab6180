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

// OpportunityHandler serves the cross-sell opportunity list
type OpportunityHandler struct {
	db       *gorm.DB
	activity *activity.Recorder
}

// NewOpportunityHandler creates the opportunity handler
func NewOpportunityHandler(db *gorm.DB, activity *activity.Recorder) *OpportunityHandler {
	return &OpportunityHandler{db: db, activity: activity}
}

// ListOpportunities returns the agency's opportunities
func (h *OpportunityHandler) ListOpportunities(c echo.Context) error {
	log := logger.FromEcho(c)

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	query := h.db.Where("agency_id = ?", actx.AgencyID)
	if stage := c.QueryParam("stage"); stage != "" {
		query = query.Where("stage = ?", stage)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var opportunities []model.Opportunity
	if err := query.Order("created_at DESC, id DESC").Find(&opportunities).Error; err != nil {
		log.Error("Failed to list opportunities", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list opportunities"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": opportunities})
}

// CreateOpportunity records a cross-sell opportunity in the caller's agency
func (h *OpportunityHandler) CreateOpportunity(c echo.Context) error {
	log := logger.FromEcho(c)

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	var req struct {
		ContactName    string  `json:"contact_name"`
		ProductLine    string  `json:"product_line"`
		Stage          string  `json:"stage,omitempty"`
		EstimatedValue float64 `json:"estimated_value,omitempty"`
		Notes          string  `json:"notes,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse opportunity creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.ContactName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "contact_name is required"})
	}

	opportunity := model.Opportunity{
		AgencyID:       actx.AgencyID,
		ContactName:    req.ContactName,
		ProductLine:    req.ProductLine,
		Stage:          req.Stage,
		EstimatedValue: req.EstimatedValue,
		Notes:          req.Notes,
	}
	if opportunity.Stage == "" {
		opportunity.Stage = "identified"
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := h.db.Create(&opportunity).Error; err != nil {
		log.Error("Failed to create opportunity", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to create opportunity"})
	}

	h.activity.Log(actx, "created", "opportunity", opportunity.ID, opportunity.ContactName)

	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": opportunity})
}
