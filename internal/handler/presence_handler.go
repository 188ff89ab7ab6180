package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"agency-service/internal/authz"
	"agency-service/internal/presence"
	"agency-service/pkg/logger"
)

// PresenceHandler serves the who-is-online view
type PresenceHandler struct {
	store *presence.Store
}

// NewPresenceHandler creates the presence handler
func NewPresenceHandler(store *presence.Store) *PresenceHandler {
	return &PresenceHandler{store: store}
}

// Heartbeat marks the caller active in their agency
func (h *PresenceHandler) Heartbeat(c echo.Context) error {
	log := logger.FromEcho(c)

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	if err := h.store.Heartbeat(c.Request().Context(), actx.AgencyID, actx.UserID, actx.UserName); err != nil {
		log.Error("Failed to record presence heartbeat", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to record heartbeat"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "heartbeat recorded"})
}

// ListActive returns users with a live heartbeat in the caller's agency
func (h *PresenceHandler) ListActive(c echo.Context) error {
	log := logger.FromEcho(c)

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	entries, err := h.store.Active(c.Request().Context(), actx.AgencyID)
	if err != nil {
		log.Error("Failed to list active users", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list active users"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": entries})
}
