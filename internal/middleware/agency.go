package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/internal/security"
	"agency-service/pkg/database"
	"agency-service/pkg/jwtutil"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

// AgencyResolver builds the per-request agency authorization context from the
// verified identity. It runs after the Authenticator and before any handler
// that touches tenant-scoped data.
type AgencyResolver struct {
	db     *gorm.DB
	mode   authz.TenancyMode
	events *security.Recorder
}

// NewAgencyResolver creates the agency context middleware
func NewAgencyResolver(db *gorm.DB, mode authz.TenancyMode, events *security.Recorder) *AgencyResolver {
	return &AgencyResolver{db: db, mode: mode, events: events}
}

// RequireAgency resolves the caller's agency context. In legacy single-tenant
// deployments the context is a full-access one with no agency id; in
// multi-tenant mode the session must name an agency the caller actively
// belongs to. A missing membership is 403, distinct from the 404 returned
// when the agency itself does not exist.
func (r *AgencyResolver) RequireAgency() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			claims, ok := c.Get(ClaimsKey).(*jwtutil.SessionClaims)
			if !ok {
				log.Error("Agency resolution without verified identity")
				prometheus.RecordAuthError("missing_identity")
				return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "authentication required"})
			}

			if r.mode == authz.ModeLegacy {
				actx := &authz.Context{
					UserID:   claims.UserID,
					UserName: claims.UserName,
					Perms:    authz.FullPermissions(),
					Mode:     authz.ModeLegacy,
				}
				c.Set(authz.ContextKey, actx)
				return next(c)
			}

			if claims.AgencyID == nil {
				log.Warn("Session has no agency context", zap.Uint("user_id", claims.UserID))
				prometheus.RecordAuthError("no_agency_context")
				return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "no agency selected"})
			}
			agencyID := *claims.AgencyID

			var agency model.Agency
			if err := r.db.First(&agency, agencyID).Error; err != nil {
				log.Warn("Agency not found", zap.Uint("agency_id", agencyID))
				prometheus.RecordAuthError("agency_not_found")
				return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "agency not found"})
			}

			var membership model.Membership
			err := r.db.Where("user_id = ? AND agency_id = ?", claims.UserID, agencyID).First(&membership).Error
			if err != nil {
				log.Warn("No membership for agency",
					zap.Uint("user_id", claims.UserID),
					zap.Uint("agency_id", agencyID))
				prometheus.RecordAuthError("membership_denied")
				return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
			}

			if membership.Status != model.MembershipActive {
				log.Warn("Membership is not active",
					zap.Uint("user_id", claims.UserID),
					zap.Uint("agency_id", agencyID),
					zap.String("status", membership.Status))
				prometheus.RecordAuthError("membership_inactive")
				return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
			}

			// IDOR guard: an agency id embedded in the URL path must match the
			// session-resolved agency, even though every lookup above was
			// already session-scoped.
			if param := c.Param("agencyId"); param != "" {
				pathID, err := strconv.ParseUint(param, 10, 32)
				if err != nil {
					return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid agency id"})
				}
				if uint(pathID) != agencyID {
					r.events.RecordIDORAttempt(claims.UserID, claims.UserName, agencyID, uint(pathID), c.Request().Method+" "+c.Path())
					return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
				}
			}

			actx := &authz.Context{
				UserID:     claims.UserID,
				UserName:   claims.UserName,
				AgencyID:   agencyID,
				AgencyRole: authz.Role(membership.Role),
				Perms:      membership.EffectivePermissions(),
				AgencyName: agency.Name,
				AgencySlug: agency.Slug,
				Mode:       authz.ModeMultiTenant,
			}
			c.Set(authz.ContextKey, actx)

			// Second, independent enforcement path: push the resolved identity
			// into the database session for row-level security policies. Best
			// effort only; application-level scoping remains primary.
			if err := database.SetSessionContext(r.db, agencyID, claims.UserID, claims.UserName); err != nil {
				log.Warn("Failed to set database session context", zap.Error(err))
			}

			return next(c)
		}
	}
}

// RequireRoles rejects callers whose resolved agency role is not in the
// given set. Legacy mode deployments have no agency roles and pass through.
func (r *AgencyResolver) RequireRoles(roles ...authz.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actx, ok := authz.FromEcho(c)
			if !ok {
				logger.FromEcho(c).Error("Role check without agency context")
				return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
			}

			if actx.Mode == authz.ModeLegacy {
				return next(c)
			}

			for _, role := range roles {
				if actx.AgencyRole == role {
					return next(c)
				}
			}

			logger.FromEcho(c).Warn("Insufficient role",
				zap.String("role", string(actx.AgencyRole)),
				zap.String("path", c.Path()))
			prometheus.RecordAuthError("insufficient_role")
			return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
		}
	}
}
