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
	"agency-service/internal/security"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

// MemberHandler serves membership management within an agency. Role checks
// live in the handlers rather than a route-level gate so that attempts to
// exceed authority can be recorded as security events, not just rejected.
type MemberHandler struct {
	db       *gorm.DB
	events   *security.Recorder
	activity *activity.Recorder
}

// NewMemberHandler creates the membership handler
func NewMemberHandler(db *gorm.DB, events *security.Recorder, activity *activity.Recorder) *MemberHandler {
	return &MemberHandler{db: db, events: events, activity: activity}
}

// ListMembers returns the members of the caller's agency
func (h *MemberHandler) ListMembers(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordMemberOperation("list")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var memberships []model.Membership
	if err := h.db.Preload("User").
		Where("agency_id = ?", actx.AgencyID).
		Order("created_at ASC").
		Find(&memberships).Error; err != nil {
		log.Error("Failed to list members", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list members"})
	}

	type memberEntry struct {
		UserID    uint      `json:"user_id"`
		UserName  string    `json:"user_name"`
		Role      string    `json:"role"`
		Status    string    `json:"status"`
		IsDefault bool      `json:"is_default"`
		JoinedAt  time.Time `json:"joined_at"`
	}

	entries := make([]memberEntry, 0, len(memberships))
	for _, m := range memberships {
		entries = append(entries, memberEntry{
			UserID:    m.UserID,
			UserName:  m.User.Name,
			Role:      m.Role,
			Status:    m.Status,
			IsDefault: m.IsDefault,
			JoinedAt:  m.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": entries})
}

// AddMember adds a user to the caller's agency.
// Owners and managers may add staff and managers; only an owner may create
// another owner, and attempts beyond that authority are recorded as critical
// privilege-escalation events.
func (h *MemberHandler) AddMember(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordMemberOperation("add")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	var req struct {
		UserName string `json:"user_name"`
		Role     string `json:"role"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse add member request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.UserName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "user_name is required"})
	}
	if req.Role == "" {
		req.Role = string(authz.RoleStaff)
	}
	if !authz.Role(req.Role).Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid role"})
	}

	// Assigning the owner role is reserved to owners; anyone else trying is
	// flagged for audit, not just turned away.
	if authz.Role(req.Role) == authz.RoleOwner && actx.AgencyRole != authz.RoleOwner {
		h.events.RecordPrivilegeEscalation(actx.UserID, actx.UserName, actx.AgencyID,
			req.Role, string(actx.AgencyRole), "POST /agencies/:agencyId/members")
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	if actx.AgencyRole != authz.RoleOwner && actx.AgencyRole != authz.RoleManager {
		log.Warn("Member add denied", zap.String("role", string(actx.AgencyRole)))
		prometheus.RecordAuthError("insufficient_role")
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	if err := h.db.Where("name = ?", req.UserName).First(&user).Error; err != nil {
		log.Warn("User not found", zap.String("user_name", req.UserName))
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "user not found"})
	}

	var existing model.Membership
	if err := h.db.Where("user_id = ? AND agency_id = ?", user.ID, actx.AgencyID).First(&existing).Error; err == nil {
		log.Warn("User already a member",
			zap.Uint("user_id", user.ID),
			zap.Uint("agency_id", actx.AgencyID))
		return c.JSON(http.StatusConflict, echo.Map{"success": false, "error": "user is already a member of this agency"})
	}

	// Subscription tier limit on active members
	var agency model.Agency
	if err := h.db.First(&agency, actx.AgencyID).Error; err != nil {
		log.Error("Agency not found during member add", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to add member"})
	}
	var memberCount int64
	h.db.Model(&model.Membership{}).
		Where("agency_id = ? AND status = ?", actx.AgencyID, model.MembershipActive).
		Count(&memberCount)
	if agency.MaxUsers > 0 && memberCount >= int64(agency.MaxUsers) {
		log.Warn("Member limit reached",
			zap.Uint("agency_id", actx.AgencyID),
			zap.Int64("count", memberCount),
			zap.Int("max_users", agency.MaxUsers))
		return c.JSON(http.StatusConflict, echo.Map{"success": false, "error": "member limit reached for subscription tier"})
	}

	membership := model.Membership{
		UserID:   user.ID,
		AgencyID: actx.AgencyID,
		Role:     req.Role,
		Status:   model.MembershipActive,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := h.db.Create(&membership).Error; err != nil {
		log.Error("Failed to create membership", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to add member"})
	}

	h.activity.Log(actx, "added", "member", user.ID, "added "+user.Name+" as "+req.Role)

	log.Info("Member added",
		zap.Uint("agency_id", actx.AgencyID),
		zap.String("user_name", user.Name),
		zap.String("role", req.Role))

	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": "member added successfully",
		"data":    membership,
	})
}

// UpdateMemberRole changes a member's role. Only owners may change roles, and
// a demotion that would leave the agency without an active owner is refused
// atomically at the storage layer.
func (h *MemberHandler) UpdateMemberRole(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordMemberOperation("update_role")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	var req struct {
		UserID      uint                `json:"user_id"`
		Role        string              `json:"role,omitempty"`
		Permissions authz.PermissionSet `json:"permissions,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse role update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.UserID == 0 || (req.Role == "" && req.Permissions == nil) {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "user_id and role or permissions are required"})
	}
	if req.Role != "" && !authz.Role(req.Role).Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid role"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var target model.Membership
	if err := h.db.Where("user_id = ? AND agency_id = ?", req.UserID, actx.AgencyID).First(&target).Error; err != nil {
		log.Warn("Target membership not found",
			zap.Uint("user_id", req.UserID),
			zap.Uint("agency_id", actx.AgencyID))
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "member not found"})
	}

	if actx.AgencyRole != authz.RoleOwner {
		// Touching the owner role without being an owner is a privilege
		// escalation; everything else is a plain authorization failure.
		if authz.Role(req.Role) == authz.RoleOwner || authz.Role(target.Role) == authz.RoleOwner {
			h.events.RecordPrivilegeEscalation(actx.UserID, actx.UserName, actx.AgencyID,
				req.Role, string(actx.AgencyRole), "PATCH /agencies/:agencyId/members")
		} else {
			prometheus.RecordAuthError("insufficient_role")
		}
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if req.Role == "" {
		// Permission override only; the membership keeps its role and gets
		// an individually tailored capability set.
		if err := target.SetPermissions(req.Permissions); err != nil {
			log.Error("Failed to serialize permission override", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update member"})
		}
		if err := h.db.Model(&target).Update("permissions", target.Permissions).Error; err != nil {
			log.Error("Failed to store permission override", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update member"})
		}

		h.activity.Log(actx, "updated", "member", req.UserID, "permissions overridden")
		return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "member updated successfully"})
	}

	if authz.Role(target.Role) == authz.RoleOwner && authz.Role(req.Role) != authz.RoleOwner {
		// Demoting an owner: the owner count check and the update are a
		// single statement, so two concurrent demotions cannot both pass.
		res := h.db.Exec(
			`UPDATE memberships SET role = ?, permissions = '', updated_at = ?
			 WHERE id = ? AND deleted_at IS NULL
			   AND (SELECT COUNT(*) FROM memberships m2
			        WHERE m2.agency_id = ? AND m2.role = 'owner'
			          AND m2.status = 'active' AND m2.deleted_at IS NULL) > 1`,
			req.Role, time.Now(), target.ID, actx.AgencyID)
		if res.Error != nil {
			log.Error("Failed to demote owner", zap.Error(res.Error))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update member"})
		}
		if res.RowsAffected == 0 {
			log.Warn("Refused to demote last owner",
				zap.Uint("agency_id", actx.AgencyID),
				zap.Uint("user_id", req.UserID))
			return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "an agency must retain at least one owner"})
		}
	} else {
		updates := map[string]interface{}{"role": req.Role, "permissions": ""}
		if err := h.db.Model(&target).Updates(updates).Error; err != nil {
			log.Error("Failed to update member role", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update member"})
		}
	}

	h.activity.Log(actx, "updated", "member", req.UserID, "role changed to "+req.Role)

	log.Info("Member role updated",
		zap.Uint("agency_id", actx.AgencyID),
		zap.Uint("user_id", req.UserID),
		zap.String("role", req.Role))

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "member updated successfully"})
}

// RemoveMember removes a member from the caller's agency. The target is named
// by the user_id query parameter. Removing the last active owner is refused.
func (h *MemberHandler) RemoveMember(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordMemberOperation("remove")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	targetUserID, err := strconv.ParseUint(c.QueryParam("user_id"), 10, 32)
	if err != nil || targetUserID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "user_id is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var target model.Membership
	if err := h.db.Where("user_id = ? AND agency_id = ?", targetUserID, actx.AgencyID).First(&target).Error; err != nil {
		log.Warn("Target membership not found",
			zap.Uint64("user_id", targetUserID),
			zap.Uint("agency_id", actx.AgencyID))
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "member not found"})
	}

	if authz.Role(target.Role) == authz.RoleOwner && actx.AgencyRole != authz.RoleOwner {
		h.events.RecordPrivilegeEscalation(actx.UserID, actx.UserName, actx.AgencyID,
			string(authz.RoleOwner), string(actx.AgencyRole), "DELETE /agencies/:agencyId/members")
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	if actx.AgencyRole != authz.RoleOwner && actx.AgencyRole != authz.RoleManager {
		prometheus.RecordAuthError("insufficient_role")
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	if authz.Role(target.Role) == authz.RoleOwner {
		// Same single-statement protection as role demotion
		res := h.db.Exec(
			`UPDATE memberships SET deleted_at = ?, updated_at = ?
			 WHERE id = ? AND deleted_at IS NULL
			   AND (SELECT COUNT(*) FROM memberships m2
			        WHERE m2.agency_id = ? AND m2.role = 'owner'
			          AND m2.status = 'active' AND m2.deleted_at IS NULL) > 1`,
			time.Now(), time.Now(), target.ID, actx.AgencyID)
		if res.Error != nil {
			log.Error("Failed to remove owner", zap.Error(res.Error))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to remove member"})
		}
		if res.RowsAffected == 0 {
			log.Warn("Refused to remove last owner",
				zap.Uint("agency_id", actx.AgencyID),
				zap.Uint64("user_id", targetUserID))
			return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "an agency must retain at least one owner"})
		}
	} else {
		if err := h.db.Delete(&target).Error; err != nil {
			log.Error("Failed to remove member", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to remove member"})
		}
	}

	h.activity.Log(actx, "removed", "member", uint(targetUserID), "")

	log.Info("Member removed",
		zap.Uint("agency_id", actx.AgencyID),
		zap.Uint64("user_id", targetUserID))

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "member removed successfully"})
}
