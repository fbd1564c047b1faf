package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/varad2005/healthnova-consult/internal/utils"
)

// Context keys set by AuthMiddleware.
const (
	CtxUserID   = "user_id"
	CtxUserName = "user_name"
)

// AuthMiddleware validates the Bearer token and stores the caller's
// identity on the gin context. Roles are never taken from the token;
// ownership of the consultation decides them downstream.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
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

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserName, claims.FullName)
		c.Next()
	}
}

// Identity pulls the authenticated caller off the gin context.
func Identity(c *gin.Context) (int64, string, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return 0, "", false
	}

	userID, ok := v.(int64)
	if !ok {
		return 0, "", false
	}

	name := ""
	if v, ok := c.Get(CtxUserName); ok {
		name, _ = v.(string)
	}

	return userID, name, true
}
