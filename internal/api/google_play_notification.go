package api

import (
	"net/http"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/response"

	"github.com/gin-gonic/gin"
)

// GoogleNotification handles Google Play real-time developer notifications pushed by Pub/Sub
// POST /api/v1/subscriptions/notifications/google
func (h *Handler) GoogleNotification(c *gin.Context) {
	startTime := time.Now()

	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		response.Error(c, http.StatusBadRequest, "Failed to read request body", response.CodeInvalidRequest)
		return
	}

	outcome, err := h.notifications.HandleGoogle(c.Request.Context(), body)
	respondNotification(c, "Google Play", outcome, err, startTime)
}
