package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/model"
	"agency-service/pkg/jwtutil"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

// Echo context keys populated by the identity resolver
const (
	ClaimsKey   = "claims"
	UserIDKey   = "user_id"
	UserNameKey = "user_name"
)

// Authenticator resolves a verified caller identity from the request: a
// Bearer session token on the primary path, or an X-User-Name header checked
// against stored records on the legacy/service path. It never mutates state.
type Authenticator struct {
	db  *gorm.DB
	jwt *jwtutil.JWTUtil
}

// NewAuthenticator creates the identity resolver middleware
func NewAuthenticator(db *gorm.DB, jwt *jwtutil.JWTUtil) *Authenticator {
	return &Authenticator{db: db, jwt: jwt}
}

// Middleware validates the caller's credentials and stores the resolved
// identity in the echo context. Failures are structured 401 responses with a
// generic message; nothing hints at whether a name exists.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				// Legacy/service path: identity supplied directly by name,
				// validated against the users table.
				if name := c.Request().Header.Get("X-User-Name"); name != "" {
					return a.resolveByName(c, next, name)
				}

				log.Warn("Missing authorization credentials")
				prometheus.RecordAuthError("missing_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "authentication required"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Invalid authorization header format")
				prometheus.RecordAuthError("invalid_auth_format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "authentication required"})
			}

			claims, err := a.jwt.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid or expired token", zap.Error(err))
				prometheus.RecordAuthError("invalid_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "authentication required"})
			}

			// Tokens for identities that no longer exist are rejected
			var user model.User
			if err := a.db.First(&user, claims.UserID).Error; err != nil {
				log.Warn("Token references unknown user", zap.Uint("user_id", claims.UserID))
				prometheus.RecordAuthError("unknown_user")
				return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "authentication required"})
			}

			c.Set(ClaimsKey, claims)
			c.Set(UserIDKey, claims.UserID)
			c.Set(UserNameKey, claims.UserName)

			log.Debug("Session token validated",
				zap.Uint("user_id", claims.UserID),
				zap.String("user_name", claims.UserName))

			return next(c)
		}
	}
}

func (a *Authenticator) resolveByName(c echo.Context, next echo.HandlerFunc, name string) error {
	log := logger.FromEcho(c)

	var user model.User
	if err := a.db.Where("name = ?", name).First(&user).Error; err != nil {
		log.Warn("Unknown caller name on legacy path")
		prometheus.RecordAuthError("unknown_user")
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "authentication required"})
	}

	claims := &jwtutil.SessionClaims{
		UserName: user.Name,
		UserID:   user.ID,
	}

	c.Set(ClaimsKey, claims)
	c.Set(UserIDKey, user.ID)
	c.Set(UserNameKey, user.Name)

	return next(c)
}
