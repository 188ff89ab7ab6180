package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/internal/security"
)

func TestAddMemberByManager(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	manager := seedUser(t, db, "maria")
	seedMembership(t, db, manager.ID, agency.ID, authz.RoleManager)
	newcomer := seedUser(t, db, "dave")

	c, rec := newRequest(http.MethodPost, "/api/agencies/1/members", `{"user_name":"dave","role":"staff"}`)
	withAgencyContext(c, memberContext(manager.ID, manager.Name, agency.ID, authz.RoleManager))

	require.NoError(t, h.AddMember(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var membership model.Membership
	require.NoError(t, db.Where("user_id = ? AND agency_id = ?", newcomer.ID, agency.ID).First(&membership).Error)
	assert.Equal(t, string(authz.RoleStaff), membership.Role)
	assert.Equal(t, model.MembershipActive, membership.Status)
}

func TestAddMemberUnknownUser(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)

	c, rec := newRequest(http.MethodPost, "/api/agencies/1/members", `{"user_name":"nobody"}`)
	withAgencyContext(c, memberContext(owner.ID, owner.Name, agency.ID, authz.RoleOwner))

	require.NoError(t, h.AddMember(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddMemberDuplicate(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)
	existing := seedUser(t, db, "dave")
	seedMembership(t, db, existing.ID, agency.ID, authz.RoleStaff)

	c, rec := newRequest(http.MethodPost, "/api/agencies/1/members", `{"user_name":"dave"}`)
	withAgencyContext(c, memberContext(owner.ID, owner.Name, agency.ID, authz.RoleOwner))

	require.NoError(t, h.AddMember(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAddMemberTierLimit(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := model.Agency{Name: "Tiny", Slug: "tiny", SubscriptionTier: "free", MaxUsers: 2, Active: true}
	require.NoError(t, db.Create(&agency).Error)

	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)
	second := seedUser(t, db, "dave")
	seedMembership(t, db, second.ID, agency.ID, authz.RoleStaff)
	seedUser(t, db, "eve")

	c, rec := newRequest(http.MethodPost, "/api/agencies/1/members", `{"user_name":"eve"}`)
	withAgencyContext(c, memberContext(owner.ID, owner.Name, agency.ID, authz.RoleOwner))

	require.NoError(t, h.AddMember(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAddMemberOwnerRoleByManagerRecordsEscalation(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	manager := seedUser(t, db, "maria")
	seedMembership(t, db, manager.ID, agency.ID, authz.RoleManager)
	seedUser(t, db, "dave")

	c, rec := newRequest(http.MethodPost, "/api/agencies/1/members", `{"user_name":"dave","role":"owner"}`)
	withAgencyContext(c, memberContext(manager.ID, manager.Name, agency.ID, authz.RoleManager))

	require.NoError(t, h.AddMember(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var event model.SecurityEvent
	require.NoError(t, db.Where("event_type = ?", security.EventPrivilegeEscalation).First(&event).Error)
	assert.Equal(t, security.SeverityCritical, event.Severity)
	assert.Equal(t, manager.ID, event.UserID)
	assert.Equal(t, "owner", event.AttemptedRole)
	assert.Equal(t, "manager", event.ActualRole)

	// The membership must not exist
	var count int64
	db.Model(&model.Membership{}).Where("agency_id = ? AND role = ?", agency.ID, "owner").
		Where("user_id != ?", manager.ID).Count(&count)
	assert.Zero(t, count)
}

func TestAddMemberDeniedForStaff(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	staff := seedUser(t, db, "sam")
	seedMembership(t, db, staff.ID, agency.ID, authz.RoleStaff)
	seedUser(t, db, "dave")

	c, rec := newRequest(http.MethodPost, "/api/agencies/1/members", `{"user_name":"dave"}`)
	withAgencyContext(c, memberContext(staff.ID, staff.Name, agency.ID, authz.RoleStaff))

	require.NoError(t, h.AddMember(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateMemberRoleRefusesLastOwnerDemotion(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)

	body := fmt.Sprintf(`{"user_id":%d,"role":"staff"}`, owner.ID)
	c, rec := newRequest(http.MethodPatch, "/api/agencies/1/members", body)
	withAgencyContext(c, memberContext(owner.ID, owner.Name, agency.ID, authz.RoleOwner))

	require.NoError(t, h.UpdateMemberRole(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Role unchanged
	var membership model.Membership
	require.NoError(t, db.Where("user_id = ? AND agency_id = ?", owner.ID, agency.ID).First(&membership).Error)
	assert.Equal(t, "owner", membership.Role)
}

func TestUpdateMemberRoleDemotesOwnerWhenAnotherRemains(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)
	coOwner := seedUser(t, db, "oscar")
	seedMembership(t, db, coOwner.ID, agency.ID, authz.RoleOwner)

	body := fmt.Sprintf(`{"user_id":%d,"role":"manager"}`, coOwner.ID)
	c, rec := newRequest(http.MethodPatch, "/api/agencies/1/members", body)
	withAgencyContext(c, memberContext(owner.ID, owner.Name, agency.ID, authz.RoleOwner))

	require.NoError(t, h.UpdateMemberRole(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var membership model.Membership
	require.NoError(t, db.Where("user_id = ? AND agency_id = ?", coOwner.ID, agency.ID).First(&membership).Error)
	assert.Equal(t, "manager", membership.Role)
}

func TestUpdateMemberRoleByManagerOnOwnerRecordsEscalation(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)
	manager := seedUser(t, db, "maria")
	seedMembership(t, db, manager.ID, agency.ID, authz.RoleManager)

	body := fmt.Sprintf(`{"user_id":%d,"role":"staff"}`, owner.ID)
	c, rec := newRequest(http.MethodPatch, "/api/agencies/1/members", body)
	withAgencyContext(c, memberContext(manager.ID, manager.Name, agency.ID, authz.RoleManager))

	require.NoError(t, h.UpdateMemberRole(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var event model.SecurityEvent
	require.NoError(t, db.Where("event_type = ?", security.EventPrivilegeEscalation).First(&event).Error)
	assert.Equal(t, manager.ID, event.UserID)
}

func TestUpdateMemberPermissionOverride(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)
	staff := seedUser(t, db, "sam")
	seedMembership(t, db, staff.ID, agency.ID, authz.RoleStaff)

	body := fmt.Sprintf(`{"user_id":%d,"permissions":{"can_view_all_tasks":true,"can_create_tasks":true}}`, staff.ID)
	c, rec := newRequest(http.MethodPatch, "/api/agencies/1/members", body)
	withAgencyContext(c, memberContext(owner.ID, owner.Name, agency.ID, authz.RoleOwner))

	require.NoError(t, h.UpdateMemberRole(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var membership model.Membership
	require.NoError(t, db.Where("user_id = ? AND agency_id = ?", staff.ID, agency.ID).First(&membership).Error)
	assert.Equal(t, "staff", membership.Role)

	perms := membership.EffectivePermissions()
	assert.True(t, perms[authz.CapViewAllTasks])
	assert.False(t, perms[authz.CapDeleteTasks])
}

func TestRemoveMemberRefusesLastOwner(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)

	c, rec := newRequest(http.MethodDelete, fmt.Sprintf("/api/agencies/1/members?user_id=%d", owner.ID), "")
	withAgencyContext(c, memberContext(owner.ID, owner.Name, agency.ID, authz.RoleOwner))

	require.NoError(t, h.RemoveMember(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var count int64
	db.Model(&model.Membership{}).Where("agency_id = ?", agency.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRemoveMemberStaffByManager(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	manager := seedUser(t, db, "maria")
	seedMembership(t, db, manager.ID, agency.ID, authz.RoleManager)
	staff := seedUser(t, db, "sam")
	seedMembership(t, db, staff.ID, agency.ID, authz.RoleStaff)

	c, rec := newRequest(http.MethodDelete, fmt.Sprintf("/api/agencies/1/members?user_id=%d", staff.ID), "")
	withAgencyContext(c, memberContext(manager.ID, manager.Name, agency.ID, authz.RoleManager))

	require.NoError(t, h.RemoveMember(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var count int64
	db.Model(&model.Membership{}).Where("user_id = ? AND agency_id = ?", staff.ID, agency.ID).Count(&count)
	assert.Zero(t, count)
}

func TestRemoveOwnerByManagerRecordsEscalation(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)
	manager := seedUser(t, db, "maria")
	seedMembership(t, db, manager.ID, agency.ID, authz.RoleManager)

	c, rec := newRequest(http.MethodDelete, fmt.Sprintf("/api/agencies/1/members?user_id=%d", owner.ID), "")
	withAgencyContext(c, memberContext(manager.ID, manager.Name, agency.ID, authz.RoleManager))

	require.NoError(t, h.RemoveMember(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var event model.SecurityEvent
	require.NoError(t, db.Where("event_type = ?", security.EventPrivilegeEscalation).First(&event).Error)
	assert.Equal(t, security.SeverityCritical, event.Severity)
}

func TestRemoveMemberTargetNotFound(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)

	c, rec := newRequest(http.MethodDelete, "/api/agencies/1/members?user_id=9999", "")
	withAgencyContext(c, memberContext(owner.ID, owner.Name, agency.ID, authz.RoleOwner))

	require.NoError(t, h.RemoveMember(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMembers(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	h := NewMemberHandler(db, events, feed)

	agency := seedAgency(t, db, "Smith Insurance", "smith-insurance")
	other := seedAgency(t, db, "Jones Agency", "jones-agency")
	owner := seedUser(t, db, "olivia")
	seedMembership(t, db, owner.ID, agency.ID, authz.RoleOwner)
	outsider := seedUser(t, db, "zed")
	seedMembership(t, db, outsider.ID, other.ID, authz.RoleOwner)

	c, rec := newRequest(http.MethodGet, "/api/agencies/1/members", "")
	withAgencyContext(c, memberContext(owner.ID, owner.Name, agency.ID, authz.RoleOwner))

	require.NoError(t, h.ListMembers(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "olivia")
	assert.NotContains(t, rec.Body.String(), "zed")
}
