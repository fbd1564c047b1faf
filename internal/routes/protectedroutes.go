package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/varad2005/healthnova-consult/internal/handlers"
	"github.com/varad2005/healthnova-consult/internal/middlewares"
)

// RegisterProtectedEndpoints wires the consultation lifecycle behind
// bearer auth. Ownership and role checks live in the service; the
// middleware only establishes who is calling.
func RegisterProtectedEndpoints(
	router *gin.Engine,
	meetingHandler *handlers.MeetingHandler,
	jwtSecret string,
) {
	protected := router.Group("/api")
	protected.Use(middlewares.AuthMiddleware(jwtSecret))

	protected.POST("/consult/appointments/:appointment_id/meeting", meetingHandler.Schedule)

	protected.POST("/consult/meetings/:room_id/start", meetingHandler.Start)
	protected.POST("/consult/meetings/:room_id/end", meetingHandler.End)
	protected.POST("/consult/meetings/:room_id/cancel", meetingHandler.Cancel)
	protected.GET("/consult/meetings/:room_id/status", meetingHandler.Status)
	protected.GET("/consult/meetings/:room_id", meetingHandler.Detail)
}
