package middlewares

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/varad2005/healthnova-consult/internal/services"
	"github.com/varad2005/healthnova-consult/internal/utils"
)

// CtxWSGrant holds the admission grant the relay trusts after upgrade.
const CtxWSGrant = "ws_grant"

// WebSocketAuthMiddleware authenticates a signaling connection before
// the upgrade. Browsers cannot set headers on a WebSocket dial, so the
// token rides in the query string. The caller's room grant is derived
// from the consultation record, never from anything the client claims.
func WebSocketAuthMiddleware(jwtSecret string, svc *services.MeetingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		claims, err := utils.ParseAccessToken(token, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		roomID := c.Query("room_id")
		if !utils.IsRoomID(roomID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid room_id",
			})
			return
		}

		grant, err := svc.Admit(c.Request.Context(), claims.UserID, claims.FullName, roomID)
		if err != nil {
			refuseAdmission(c, roomID, err)
			return
		}

		c.Set(CtxWSGrant, grant)
		c.Next()
	}
}

func refuseAdmission(c *gin.Context, roomID string, err error) {
	switch {
	case errors.Is(err, services.ErrNotYetStarted):
		c.AbortWithStatusJSON(http.StatusTooEarly, gin.H{
			"error": "consultation has not started",
			"code":  "NOT_YET_STARTED",
		})
	case errors.Is(err, services.ErrSessionClosed):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": "consultation is over",
			"code":  "SESSION_CLOSED",
		})
	case errors.Is(err, services.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "not authorized for this consultation",
		})
	default:
		log.Error().Err(err).Str("module", "ws").Str("room_id", roomID).
			Msg("admission failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
		})
	}
}

// WSGrant retrieves the admission grant placed by the middleware.
func WSGrant(c *gin.Context) (*services.Grant, bool) {
	v, ok := c.Get(CtxWSGrant)
	if !ok {
		return nil, false
	}
	grant, ok := v.(*services.Grant)
	return grant, ok
}
