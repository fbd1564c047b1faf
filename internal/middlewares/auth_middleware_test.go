package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/varad2005/healthnova-consult/internal/utils"
)

const mwSecret = "middleware-test-secret"

func whoamiRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(mwSecret))
	router.GET("/whoami", func(c *gin.Context) {
		userID, name, ok := Identity(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no identity"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "name": name})
	})
	return router
}

func get(router *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewarePopulatesIdentity(t *testing.T) {
	router := whoamiRouter()

	token, err := utils.NewAccessToken(42, "doctor", "Dr. Rao", mwSecret, time.Hour)
	require.NoError(t, err)

	w := get(router, "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user_id": 42, "name": "Dr. Rao"}`, w.Body.String())
}

func TestAuthMiddlewareRefusals(t *testing.T) {
	router := whoamiRouter()

	w := get(router, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, "missing header")

	w = get(router, "Bearer ")
	require.Equal(t, http.StatusUnauthorized, w.Code, "empty token")

	w = get(router, "Basic dXNlcjpwYXNz")
	require.Equal(t, http.StatusUnauthorized, w.Code, "not a bearer token")

	w = get(router, "Bearer not.a.jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code, "garbage token")

	wrongKey, err := utils.NewAccessToken(42, "doctor", "Dr. Rao", "other-secret", time.Hour)
	require.NoError(t, err)
	w = get(router, "Bearer "+wrongKey)
	require.Equal(t, http.StatusUnauthorized, w.Code, "wrong signing key")

	expired, err := utils.NewAccessToken(42, "doctor", "Dr. Rao", mwSecret, -time.Minute)
	require.NoError(t, err)
	w = get(router, "Bearer "+expired)
	require.Equal(t, http.StatusUnauthorized, w.Code, "expired token")
}
