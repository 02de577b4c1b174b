package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/NolanEssertaize/Know-it-backend/internal/response"

	"github.com/gin-gonic/gin"
)

// NotificationTokenAuth guards store notification endpoints with a shared token,
// sent as X-Notification-Token or the token query parameter
func NotificationTokenAuth(token string) gin.HandlerFunc {
	expected := []byte(token)

	return func(c *gin.Context) {
		provided := c.GetHeader("X-Notification-Token")
		if provided == "" {
			provided = c.Query("token")
		}

		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			response.Detail(c, http.StatusUnauthorized, "Invalid notification token")
			return
		}
		c.Next()
	}
}
