package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"agency-service/internal/activity"
	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/internal/security"
)

// newTestDB opens an isolated in-memory database and migrates the schema.
// The database name includes the test name so parallel tests never share state.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Agency{},
		&model.Membership{},
		&model.Todo{},
		&model.Reminder{},
		&model.ContactHistory{},
		&model.Opportunity{},
		&model.ActivityLog{},
		&model.SecurityEvent{},
	))
	return db
}

func newRecorders(db *gorm.DB) (*security.Recorder, *activity.Recorder) {
	log := zap.NewNop()
	return security.NewRecorder(db, log), activity.NewRecorder(db, log)
}

// newRequest builds an echo context carrying an optional JSON body
func newRequest(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

// withAgencyContext attaches a resolved authorization context the way the
// middleware chain would
func withAgencyContext(c echo.Context, actx *authz.Context) {
	c.Set(authz.ContextKey, actx)
}

func memberContext(userID uint, userName string, agencyID uint, role authz.Role) *authz.Context {
	return &authz.Context{
		UserID:     userID,
		UserName:   userName,
		AgencyID:   agencyID,
		AgencyRole: role,
		Perms:      authz.DefaultPermissions(role),
		Mode:       authz.ModeMultiTenant,
	}
}

func seedUser(t *testing.T, db *gorm.DB, name string) model.User {
	t.Helper()
	user := model.User{Name: name, Password: "x", Role: "user"}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func seedAgency(t *testing.T, db *gorm.DB, name, slug string) model.Agency {
	t.Helper()
	agency := model.Agency{
		Name:             name,
		Slug:             slug,
		SubscriptionTier: string(authz.TierFree),
		MaxUsers:         authz.LimitsForTier(authz.TierFree).MaxUsers,
		MaxStorageMB:     authz.LimitsForTier(authz.TierFree).MaxStorageMB,
		Active:           true,
	}
	require.NoError(t, db.Create(&agency).Error)
	return agency
}

func seedMembership(t *testing.T, db *gorm.DB, userID, agencyID uint, role authz.Role) model.Membership {
	t.Helper()
	membership := model.Membership{
		UserID:   userID,
		AgencyID: agencyID,
		Role:     string(role),
		Status:   model.MembershipActive,
	}
	require.NoError(t, db.Create(&membership).Error)
	return membership
}
