package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/internal/security"
	"agency-service/pkg/config"
	"agency-service/pkg/jwtutil"
)

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
		&model.SecurityEvent{},
	))
	return db
}

func newJWT() *jwtutil.JWTUtil {
	return jwtutil.New(&config.JWTConfig{SigningKey: "test-signing-key", ExpirationHours: 1})
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAuthenticatorRejectsMissingCredentials(t *testing.T) {
	db := newTestDB(t)
	a := NewAuthenticator(db, newJWT())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, a.Middleware()(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication required")
}

func TestAuthenticatorRejectsMalformedHeader(t *testing.T) {
	db := newTestDB(t)
	a := NewAuthenticator(db, newJWT())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
	req.Header.Set("Authorization", "Token abc123")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, a.Middleware()(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	db := newTestDB(t)
	jwt := newJWT()
	a := NewAuthenticator(db, jwt)

	user := model.User{Name: "olivia", Password: "x", Role: "user"}
	require.NoError(t, db.Create(&user).Error)

	token, err := jwt.GenerateToken(user.Name, user.ID)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, a.Middleware()(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.ID, c.Get(UserIDKey))
	assert.Equal(t, "olivia", c.Get(UserNameKey))
}

func TestAuthenticatorRejectsTokenForDeletedUser(t *testing.T) {
	db := newTestDB(t)
	jwt := newJWT()
	a := NewAuthenticator(db, jwt)

	token, err := jwt.GenerateToken("ghost", 999)
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, a.Middleware()(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatorLegacyNamePath(t *testing.T) {
	db := newTestDB(t)
	a := NewAuthenticator(db, newJWT())

	user := model.User{Name: "olivia", Password: "x", Role: "user"}
	require.NoError(t, db.Create(&user).Error)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
	req.Header.Set("X-User-Name", "olivia")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, a.Middleware()(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.ID, c.Get(UserIDKey))
}

func TestAuthenticatorLegacyNameUnknownUser(t *testing.T) {
	db := newTestDB(t)
	a := NewAuthenticator(db, newJWT())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/agencies", nil)
	req.Header.Set("X-User-Name", "nobody")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, a.Middleware()(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// resolverFixture seeds a user with an active membership and returns an echo
// context carrying validated claims, as the Authenticator would leave it.
type resolverFixture struct {
	db       *gorm.DB
	resolver *AgencyResolver
	user     model.User
	agency   model.Agency
}

func newResolverFixture(t *testing.T, mode authz.TenancyMode) *resolverFixture {
	t.Helper()
	db := newTestDB(t)
	events := security.NewRecorder(db, zap.NewNop())

	f := &resolverFixture{db: db, resolver: NewAgencyResolver(db, mode, events)}

	f.user = model.User{Name: "olivia", Password: "x", Role: "user"}
	require.NoError(t, db.Create(&f.user).Error)
	f.agency = model.Agency{Name: "Smith Insurance", Slug: "smith-insurance", Active: true}
	require.NoError(t, db.Create(&f.agency).Error)
	membership := model.Membership{
		UserID:   f.user.ID,
		AgencyID: f.agency.ID,
		Role:     string(authz.RoleOwner),
		Status:   model.MembershipActive,
	}
	require.NoError(t, db.Create(&membership).Error)
	return f
}

func (f *resolverFixture) newContext(target string, agencyID *uint) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(ClaimsKey, &jwtutil.SessionClaims{
		UserName: f.user.Name,
		UserID:   f.user.ID,
		AgencyID: agencyID,
	})
	return c, rec
}

func TestRequireAgencyResolvesContext(t *testing.T) {
	f := newResolverFixture(t, authz.ModeMultiTenant)

	c, rec := f.newContext("/api/agencies/1/todos", &f.agency.ID)
	var captured *authz.Context
	handler := func(c echo.Context) error {
		captured, _ = authz.FromEcho(c)
		return c.String(http.StatusOK, "ok")
	}

	require.NoError(t, f.resolver.RequireAgency()(handler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, f.agency.ID, captured.AgencyID)
	assert.Equal(t, authz.RoleOwner, captured.AgencyRole)
	assert.True(t, captured.Can(authz.CapManageBilling))
}

func TestRequireAgencyWithoutIdentityIs401(t *testing.T) {
	f := newResolverFixture(t, authz.ModeMultiTenant)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/agencies/1/todos", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, f.resolver.RequireAgency()(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAgencyNoAgencySelected(t *testing.T) {
	f := newResolverFixture(t, authz.ModeMultiTenant)

	c, rec := f.newContext("/api/agencies/1/todos", nil)
	require.NoError(t, f.resolver.RequireAgency()(okHandler)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "no agency selected")
}

func TestRequireAgencyMissingAgencyIs404(t *testing.T) {
	f := newResolverFixture(t, authz.ModeMultiTenant)

	missing := uint(999)
	c, rec := f.newContext("/api/agencies/999/todos", &missing)
	require.NoError(t, f.resolver.RequireAgency()(okHandler)(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequireAgencyNonMemberIs403(t *testing.T) {
	f := newResolverFixture(t, authz.ModeMultiTenant)

	other := model.Agency{Name: "Jones Agency", Slug: "jones-agency", Active: true}
	require.NoError(t, f.db.Create(&other).Error)

	c, rec := f.newContext("/api/agencies/2/todos", &other.ID)
	require.NoError(t, f.resolver.RequireAgency()(okHandler)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAgencyRevokedMembershipIs403(t *testing.T) {
	f := newResolverFixture(t, authz.ModeMultiTenant)

	require.NoError(t, f.db.Model(&model.Membership{}).
		Where("user_id = ? AND agency_id = ?", f.user.ID, f.agency.ID).
		Update("status", model.MembershipRevoked).Error)

	c, rec := f.newContext("/api/agencies/1/todos", &f.agency.ID)
	require.NoError(t, f.resolver.RequireAgency()(okHandler)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAgencyPathMismatchRecordsIDOR(t *testing.T) {
	f := newResolverFixture(t, authz.ModeMultiTenant)

	c, rec := f.newContext("/api/agencies/42/todos", &f.agency.ID)
	c.SetParamNames("agencyId")
	c.SetParamValues("42")

	require.NoError(t, f.resolver.RequireAgency()(okHandler)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var event model.SecurityEvent
	require.NoError(t, f.db.Where("event_type = ?", security.EventIDORAttempt).First(&event).Error)
	assert.Equal(t, security.SeverityHigh, event.Severity)
	assert.Equal(t, f.user.ID, event.UserID)
	assert.Equal(t, f.agency.ID, event.AgencyID)
	assert.Equal(t, uint(42), event.PathAgencyID)
}

func TestRequireAgencyPathMatchPasses(t *testing.T) {
	f := newResolverFixture(t, authz.ModeMultiTenant)

	c, rec := f.newContext("/api/agencies/1/todos", &f.agency.ID)
	c.SetParamNames("agencyId")
	c.SetParamValues(fmt.Sprint(f.agency.ID))

	require.NoError(t, f.resolver.RequireAgency()(okHandler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAgencyLegacyModeGrantsFullAccess(t *testing.T) {
	f := newResolverFixture(t, authz.ModeLegacy)

	c, rec := f.newContext("/api/agencies/1/todos", nil)
	var captured *authz.Context
	handler := func(c echo.Context) error {
		captured, _ = authz.FromEcho(c)
		return c.String(http.StatusOK, "ok")
	}

	require.NoError(t, f.resolver.RequireAgency()(handler)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, authz.ModeLegacy, captured.Mode)
	assert.True(t, captured.Can(authz.CapManageBilling))
}

func TestRequireRoles(t *testing.T) {
	f := newResolverFixture(t, authz.ModeMultiTenant)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/agencies/1/activity", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(authz.ContextKey, &authz.Context{
		UserID:     f.user.ID,
		AgencyID:   f.agency.ID,
		AgencyRole: authz.RoleStaff,
		Mode:       authz.ModeMultiTenant,
	})

	require.NoError(t, f.resolver.RequireRoles(authz.RoleOwner, authz.RoleManager)(okHandler)(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec2 := httptest.NewRecorder()
	c2 := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/agencies/1/activity", nil), rec2)
	c2.Set(authz.ContextKey, &authz.Context{
		UserID:     f.user.ID,
		AgencyID:   f.agency.ID,
		AgencyRole: authz.RoleManager,
		Mode:       authz.ModeMultiTenant,
	})
	require.NoError(t, f.resolver.RequireRoles(authz.RoleOwner, authz.RoleManager)(okHandler)(c2))
	assert.Equal(t, http.StatusOK, rec2.Code)
}
