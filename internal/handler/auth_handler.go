package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"agency-service/internal/model"
	"agency-service/pkg/jwtutil"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

// AuthHandler serves registration and login
type AuthHandler struct {
	db  *gorm.DB
	jwt *jwtutil.JWTUtil
}

// NewAuthHandler creates the authentication handler
func NewAuthHandler(db *gorm.DB, jwt *jwtutil.JWTUtil) *AuthHandler {
	return &AuthHandler{db: db, jwt: jwt}
}

// Register creates a new user identity
func (h *AuthHandler) Register(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RegisterCounter.Inc()

	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse registration request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.Name == "" || req.Password == "" {
		log.Warn("Invalid registration data", zap.Bool("name_provided", req.Name != ""))
		prometheus.RecordAuthError("incomplete_registration")
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "name and password are required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var existing model.User
	if err := h.db.Where("name = ?", req.Name).First(&existing).Error; err == nil {
		log.Warn("User already exists", zap.String("name", req.Name))
		prometheus.RecordAuthError("name_already_exists")
		return c.JSON(http.StatusConflict, echo.Map{"success": false, "error": "name already registered"})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		prometheus.RecordAuthError("password_hash_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "registration failed"})
	}

	user := model.User{
		Name:     req.Name,
		Password: string(hashedPassword),
		Role:     "user",
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := h.db.Create(&user).Error; err != nil {
		log.Error("Failed to create user", zap.Error(err))
		prometheus.RecordAuthError("user_creation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "registration failed"})
	}

	log.Info("User registered", zap.String("name", user.Name))
	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": "user registered successfully",
		"data": map[string]interface{}{
			"id":   user.ID,
			"name": user.Name,
		},
	})
}

// Login verifies credentials and issues a session token. When the caller
// names an agency (or has a default membership) the token carries the agency
// context used by the authorization layer on subsequent requests.
func (h *AuthHandler) Login(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.LoginCounter.Inc()

	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
		AgencyID *uint  `json:"agency_id,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	if err := h.db.Where("name = ?", req.Name).First(&user).Error; err != nil {
		log.Warn("Login with unknown name")
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "invalid credentials"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		log.Warn("Invalid password", zap.String("name", req.Name))
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "invalid credentials"})
	}

	// Agency selection: the requested agency must be an active membership;
	// with no request, fall back to the caller's default membership.
	var membership model.Membership
	var haveAgency bool
	if req.AgencyID != nil {
		err := h.db.Where("user_id = ? AND agency_id = ? AND status = ?", user.ID, *req.AgencyID, model.MembershipActive).First(&membership).Error
		if err != nil {
			log.Warn("User has no active membership in requested agency",
				zap.Uint("user_id", user.ID),
				zap.Uint("agency_id", *req.AgencyID))
			prometheus.RecordAuthError("agency_access_denied")
			return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied to the requested agency"})
		}
		haveAgency = true
	} else {
		err := h.db.Where("user_id = ? AND is_default = ? AND status = ?", user.ID, true, model.MembershipActive).First(&membership).Error
		haveAgency = err == nil
	}

	var token string
	var err error
	if haveAgency {
		var agency model.Agency
		if err := h.db.First(&agency, membership.AgencyID).Error; err != nil {
			log.Error("Membership references missing agency",
				zap.Uint("agency_id", membership.AgencyID), zap.Error(err))
			prometheus.RecordAuthError("agency_not_found")
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "login failed"})
		}

		agencyID := membership.AgencyID
		token, err = h.jwt.GenerateTokenWithAgency(user.Name, user.ID, &agencyID, agency.Name, membership.Role)
	} else {
		token, err = h.jwt.GenerateToken(user.Name, user.ID)
	}

	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "login failed"})
	}

	prometheus.IncreaseActiveTokens()

	response := echo.Map{
		"success": true,
		"data": map[string]interface{}{
			"token": token,
			"user": map[string]interface{}{
				"id":   user.ID,
				"name": user.Name,
			},
		},
	}

	if haveAgency {
		log.Info("User logged in with agency context",
			zap.String("name", user.Name),
			zap.Uint("agency_id", membership.AgencyID),
			zap.String("role", membership.Role))
	} else {
		log.Info("User logged in", zap.String("name", user.Name))
	}

	return c.JSON(http.StatusOK, response)
}
