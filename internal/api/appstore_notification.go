package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/response"
	"github.com/NolanEssertaize/Know-it-backend/internal/services"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"

	"github.com/gin-gonic/gin"
)

// AppleNotification handles App Store Server Notifications V2
// POST /api/v1/subscriptions/notifications/apple
func (h *Handler) AppleNotification(c *gin.Context) {
	startTime := time.Now()

	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		response.Error(c, http.StatusBadRequest, "Failed to read request body", response.CodeInvalidRequest)
		return
	}

	outcome, err := h.notifications.HandleApple(c.Request.Context(), body)
	respondNotification(c, "App Store", outcome, err, startTime)
}

// respondNotification acknowledges a processed notification. Failures other than a
// malformed body answer 500 so the store delivers the notification again.
func respondNotification(c *gin.Context, store string, outcome services.NotificationOutcome, err error, startTime time.Time) {
	if errors.Is(err, services.ErrMalformedNotification) {
		logging.Warnf("%s notification rejected: %v", store, err)
		response.Error(c, http.StatusBadRequest, err.Error(), response.CodeInvalidRequest)
		return
	}
	if err != nil {
		logging.Errorf("%s notification processing failed: %v", store, err)
		response.InternalError(c)
		return
	}

	logging.Infof("%s notification processed - action: %s, user_id: %s, duration: %v",
		store, outcome.Action, outcome.UserID, time.Since(startTime))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"action":  outcome.Action,
	})
}
