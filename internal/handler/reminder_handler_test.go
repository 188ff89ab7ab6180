package handler

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/internal/scheduler"
	"agency-service/internal/security"
)

type reminderFixture struct {
	db      *gorm.DB
	handler *ReminderHandler
	agency  model.Agency
	other   model.Agency
	owner   model.User
	staff   model.User
}

func newReminderFixture(t *testing.T) *reminderFixture {
	t.Helper()
	db := newTestDB(t)
	events, feed := newRecorders(db)
	processor := scheduler.NewProcessor(db, zap.NewNop())

	f := &reminderFixture{
		db:      db,
		handler: NewReminderHandler(db, events, feed, processor, "cron-secret"),
	}
	f.agency = seedAgency(t, db, "Smith Insurance", "smith-insurance")
	f.other = seedAgency(t, db, "Jones Agency", "jones-agency")
	f.owner = seedUser(t, db, "olivia")
	seedMembership(t, db, f.owner.ID, f.agency.ID, authz.RoleOwner)
	f.staff = seedUser(t, db, "sam")
	seedMembership(t, db, f.staff.ID, f.agency.ID, authz.RoleStaff)
	return f
}

func (f *reminderFixture) seedReminder(t *testing.T, agencyID, creatorID uint, title string, remindAt time.Time, status string) model.Reminder {
	t.Helper()
	reminder := model.Reminder{
		AgencyID:  agencyID,
		CreatorID: creatorID,
		Title:     title,
		RemindAt:  remindAt,
		Status:    status,
	}
	require.NoError(t, f.db.Create(&reminder).Error)
	return reminder
}

func TestCreateReminder(t *testing.T) {
	f := newReminderFixture(t)

	body := `{"title":"Renewal call","remind_at":"2026-09-15T09:00:00Z"}`
	c, rec := newRequest(http.MethodPost, "/api/agencies/1/reminders", body)
	withAgencyContext(c, memberContext(f.owner.ID, f.owner.Name, f.agency.ID, authz.RoleOwner))

	require.NoError(t, f.handler.CreateReminder(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var stored model.Reminder
	require.NoError(t, f.db.First(&stored, "title = ?", "Renewal call").Error)
	assert.Equal(t, f.agency.ID, stored.AgencyID)
	assert.Equal(t, model.ReminderPending, stored.Status)
}

func TestCreateReminderRequiresRemindAt(t *testing.T) {
	f := newReminderFixture(t)

	c, rec := newRequest(http.MethodPost, "/api/agencies/1/reminders", `{"title":"No time"}`)
	withAgencyContext(c, memberContext(f.owner.ID, f.owner.Name, f.agency.ID, authz.RoleOwner))

	require.NoError(t, f.handler.CreateReminder(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRemindersStaffSeesOnlyOwn(t *testing.T) {
	f := newReminderFixture(t)
	at := time.Now().Add(time.Hour)
	f.seedReminder(t, f.agency.ID, f.owner.ID, "owner reminder", at, model.ReminderPending)
	f.seedReminder(t, f.agency.ID, f.staff.ID, "staff reminder", at, model.ReminderPending)

	c, rec := newRequest(http.MethodGet, "/api/agencies/1/reminders", "")
	withAgencyContext(c, memberContext(f.staff.ID, f.staff.Name, f.agency.ID, authz.RoleStaff))

	require.NoError(t, f.handler.ListReminders(c))
	assert.Contains(t, rec.Body.String(), "staff reminder")
	assert.NotContains(t, rec.Body.String(), "owner reminder")
}

func TestListRemindersOwnerSeesAll(t *testing.T) {
	f := newReminderFixture(t)
	at := time.Now().Add(time.Hour)
	f.seedReminder(t, f.agency.ID, f.owner.ID, "owner reminder", at, model.ReminderPending)
	f.seedReminder(t, f.agency.ID, f.staff.ID, "staff reminder", at, model.ReminderPending)
	f.seedReminder(t, f.other.ID, f.owner.ID, "foreign reminder", at, model.ReminderPending)

	c, rec := newRequest(http.MethodGet, "/api/agencies/1/reminders", "")
	withAgencyContext(c, memberContext(f.owner.ID, f.owner.Name, f.agency.ID, authz.RoleOwner))

	require.NoError(t, f.handler.ListReminders(c))
	assert.Contains(t, rec.Body.String(), "owner reminder")
	assert.Contains(t, rec.Body.String(), "staff reminder")
	assert.NotContains(t, rec.Body.String(), "foreign reminder")
}

func TestUpdateReminderStaffCannotTouchOthers(t *testing.T) {
	f := newReminderFixture(t)
	reminder := f.seedReminder(t, f.agency.ID, f.owner.ID, "owner reminder", time.Now().Add(time.Hour), model.ReminderPending)

	body := fmt.Sprintf(`{"id":%d,"status":"dismissed"}`, reminder.ID)
	c, rec := newRequest(http.MethodPatch, "/api/agencies/1/reminders", body)
	withAgencyContext(c, memberContext(f.staff.ID, f.staff.Name, f.agency.ID, authz.RoleStaff))

	require.NoError(t, f.handler.UpdateReminder(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var stored model.Reminder
	require.NoError(t, f.db.First(&stored, reminder.ID).Error)
	assert.Equal(t, model.ReminderPending, stored.Status)
}

func TestUpdateReminderRejectsUnknownStatus(t *testing.T) {
	f := newReminderFixture(t)
	reminder := f.seedReminder(t, f.agency.ID, f.owner.ID, "r", time.Now().Add(time.Hour), model.ReminderPending)

	body := fmt.Sprintf(`{"id":%d,"status":"snoozed"}`, reminder.ID)
	c, rec := newRequest(http.MethodPatch, "/api/agencies/1/reminders", body)
	withAgencyContext(c, memberContext(f.owner.ID, f.owner.Name, f.agency.ID, authz.RoleOwner))

	require.NoError(t, f.handler.UpdateReminder(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteReminderCrossTenantLooksAbsent(t *testing.T) {
	f := newReminderFixture(t)
	foreign := f.seedReminder(t, f.other.ID, f.owner.ID, "foreign", time.Now().Add(time.Hour), model.ReminderPending)

	c, rec := newRequest(http.MethodDelete, fmt.Sprintf("/api/agencies/1/reminders?id=%d", foreign.ID), "")
	withAgencyContext(c, memberContext(f.owner.ID, f.owner.Name, f.agency.ID, authz.RoleOwner))

	require.NoError(t, f.handler.DeleteReminder(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessRemindersWithValidSecret(t *testing.T) {
	f := newReminderFixture(t)
	f.seedReminder(t, f.agency.ID, f.owner.ID, "due", time.Now().Add(-time.Minute), model.ReminderPending)
	f.seedReminder(t, f.other.ID, f.owner.ID, "due elsewhere", time.Now().Add(-time.Minute), model.ReminderPending)
	f.seedReminder(t, f.agency.ID, f.owner.ID, "future", time.Now().Add(time.Hour), model.ReminderPending)

	c, rec := newRequest(http.MethodPost, "/reminders/process", "")
	c.Request().Header.Set("X-Cron-Secret", "cron-secret")

	require.NoError(t, f.handler.ProcessReminders(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"processed":2`)

	// The sweep crosses tenants: both due reminders flipped
	var sent int64
	f.db.Model(&model.Reminder{}).Where("status = ?", model.ReminderSent).Count(&sent)
	assert.Equal(t, int64(2), sent)

	var future model.Reminder
	require.NoError(t, f.db.First(&future, "title = ?", "future").Error)
	assert.Equal(t, model.ReminderPending, future.Status)
}

func TestProcessRemindersBadSecretRecordsEvent(t *testing.T) {
	f := newReminderFixture(t)
	f.seedReminder(t, f.agency.ID, f.owner.ID, "due", time.Now().Add(-time.Minute), model.ReminderPending)

	c, rec := newRequest(http.MethodPost, "/reminders/process", "")
	c.Request().Header.Set("X-Cron-Secret", "wrong")

	require.NoError(t, f.handler.ProcessReminders(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var event model.SecurityEvent
	require.NoError(t, f.db.Where("event_type = ?", security.EventCronAuthFailure).First(&event).Error)
	assert.Equal(t, security.SeverityHigh, event.Severity)

	// Nothing processed
	var sent int64
	f.db.Model(&model.Reminder{}).Where("status = ?", model.ReminderSent).Count(&sent)
	assert.Zero(t, sent)
}

func TestProcessRemindersEmptySecretConfigAlwaysDenied(t *testing.T) {
	db := newTestDB(t)
	events, feed := newRecorders(db)
	processor := scheduler.NewProcessor(db, zap.NewNop())
	h := NewReminderHandler(db, events, feed, processor, "")

	c, rec := newRequest(http.MethodPost, "/reminders/process", "")
	c.Request().Header.Set("X-Cron-Secret", "")

	require.NoError(t, h.ProcessReminders(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
