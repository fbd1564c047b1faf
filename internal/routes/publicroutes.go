package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/varad2005/healthnova-consult/internal/handlers"
	"github.com/varad2005/healthnova-consult/internal/middlewares"
	"github.com/varad2005/healthnova-consult/internal/services"
)

// RegisterPublicEndpoints wires the routes that skip bearer auth: the
// liveness probe and the signaling socket, which authenticates through
// its query token instead.
func RegisterPublicEndpoints(
	router *gin.Engine,
	healthHandler *handlers.HealthHandler,
	webSocketHandler *handlers.WebSocketHandler,
	meetingService *services.MeetingService,
	jwtSecret string,
) {
	router.GET("/healthz", healthHandler.Healthz)

	// admission is decided in middleware, while refusals can still be
	// plain HTTP statuses
	wsAuth := middlewares.WebSocketAuthMiddleware(jwtSecret, meetingService)
	router.GET("/ws/consult", wsAuth, webSocketHandler.HandleWebSocket)
}
