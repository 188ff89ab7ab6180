package handler

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/internal/security"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

// AgencyHandler serves agency creation and listing
type AgencyHandler struct {
	db     *gorm.DB
	events *security.Recorder
}

// NewAgencyHandler creates the agency handler
func NewAgencyHandler(db *gorm.DB, events *security.Recorder) *AgencyHandler {
	return &AgencyHandler{db: db, events: events}
}

// slugify derives a url slug from an agency name: lowercase alphanumerics
// with single hyphens between words, trimmed to 50 characters.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 50 {
		slug = strings.Trim(slug[:50], "-")
	}
	return slug
}

// ListAgencies returns the agencies the caller belongs to, with their role in
// each.
func (h *AgencyHandler) ListAgencies(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordAgencyOperation("list")

	userID, ok := c.Get("user_id").(uint)
	if !ok {
		log.Error("Failed to get user ID from context")
		prometheus.RecordAuthError("missing_identity")
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var memberships []model.Membership
	if err := h.db.Preload("Agency").
		Where("user_id = ? AND status = ?", userID, model.MembershipActive).
		Order("created_at ASC").
		Find(&memberships).Error; err != nil {
		log.Error("Failed to list agencies", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list agencies"})
	}

	type agencyEntry struct {
		ID        uint      `json:"id"`
		Name      string    `json:"name"`
		Slug      string    `json:"slug"`
		Role      string    `json:"role"`
		IsDefault bool      `json:"is_default"`
		Tier      string    `json:"subscription_tier"`
		CreatedAt time.Time `json:"created_at"`
	}

	entries := make([]agencyEntry, 0, len(memberships))
	for _, m := range memberships {
		entries = append(entries, agencyEntry{
			ID:        m.AgencyID,
			Name:      m.Agency.Name,
			Slug:      m.Agency.Slug,
			Role:      m.Role,
			IsDefault: m.IsDefault,
			Tier:      m.Agency.SubscriptionTier,
			CreatedAt: m.Agency.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": entries})
}

// CreateAgency creates a new agency with the caller as its first owner. The
// agency row and owner membership are committed together; there is never a
// window where a tenant exists without an owner.
func (h *AgencyHandler) CreateAgency(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordAgencyOperation("create")

	userID, ok := c.Get("user_id").(uint)
	if !ok {
		log.Error("Failed to get user ID from context")
		prometheus.RecordAuthError("missing_identity")
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "authentication required"})
	}

	var req struct {
		Name             string `json:"name"`
		Slug             string `json:"slug,omitempty"`
		PrimaryColor     string `json:"primary_color,omitempty"`
		SecondaryColor   string `json:"secondary_color,omitempty"`
		SubscriptionTier string `json:"subscription_tier,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse agency creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "name is required"})
	}

	slug := req.Slug
	if slug == "" {
		slug = slugify(req.Name)
	}
	if slug == "" || len(slug) > 50 || !slugPattern.MatchString(slug) {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "slug must be 1-50 lowercase alphanumeric characters or hyphens"})
	}

	tier := authz.SubscriptionTier(req.SubscriptionTier)
	if req.SubscriptionTier == "" {
		tier = authz.TierFree
	}
	limits := authz.LimitsForTier(tier)

	defer prometheus.TrackDBOperation("query")(time.Now())
	var count int64
	h.db.Model(&model.Agency{}).Where("slug = ?", slug).Count(&count)
	if count > 0 {
		log.Warn("Agency slug already taken", zap.String("slug", slug))
		return c.JSON(http.StatusConflict, echo.Map{"success": false, "error": "slug already in use"})
	}

	agency := model.Agency{
		Name:             req.Name,
		Slug:             slug,
		PrimaryColor:     req.PrimaryColor,
		SecondaryColor:   req.SecondaryColor,
		SubscriptionTier: string(tier),
		MaxUsers:         limits.MaxUsers,
		MaxStorageMB:     limits.MaxStorageMB,
		Active:           true,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	tx := h.db.Begin()
	if tx.Error != nil {
		log.Error("Failed to begin transaction", zap.Error(tx.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "database error"})
	}

	if err := tx.Create(&agency).Error; err != nil {
		tx.Rollback()
		log.Error("Failed to create agency", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "agency creation failed"})
	}

	membership := model.Membership{
		UserID:    userID,
		AgencyID:  agency.ID,
		Role:      string(authz.RoleOwner),
		Status:    model.MembershipActive,
		IsDefault: true,
	}

	if err := tx.Create(&membership).Error; err != nil {
		tx.Rollback()
		log.Error("Failed to create owner membership, agency creation rolled back",
			zap.Uint("agency_id", agency.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "agency creation failed"})
	}

	if err := tx.Commit().Error; err != nil {
		// An agency without an owner is a data-integrity anomaly; if the
		// commit half-applied, it needs manual intervention.
		log.Error("CRITICAL: failed to commit agency creation",
			zap.Uint("agency_id", agency.ID), zap.Error(err))
		h.events.Record(&model.SecurityEvent{
			EventType: security.EventOrphanedAgency,
			Severity:  security.SeverityCritical,
			UserID:    userID,
			AgencyID:  agency.ID,
			Endpoint:  "POST /agencies",
			Detail:    "agency creation commit failed; verify no ownerless agency row remains",
		})
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "agency creation failed"})
	}

	log.Info("Agency created",
		zap.Uint("id", agency.ID),
		zap.String("name", agency.Name),
		zap.String("slug", agency.Slug),
		zap.Uint("owner_id", userID))

	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": "agency created successfully",
		"data":    agency,
	})
}
