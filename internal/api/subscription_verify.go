package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/middleware"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/internal/response"
	"github.com/NolanEssertaize/Know-it-backend/internal/services"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"

	"github.com/gin-gonic/gin"
)

// storeRetryAfterSeconds is the hint sent when the store stays unavailable
const storeRetryAfterSeconds = "30"

// VerifySubscriptionRequest represents verify subscription request
type VerifySubscriptionRequest struct {
	Platform    string `json:"platform" binding:"required"`
	ReceiptData string `json:"receipt_data" binding:"required"`
	ProductID   string `json:"product_id" binding:"required"`
}

// VerifySubscriptionResponse represents verify subscription response
type VerifySubscriptionResponse struct {
	Success      bool                  `json:"success"`
	Subscription *SubscriptionResponse `json:"subscription"`
	Message      string                `json:"message"`
}

// VerifySubscription verifies a store receipt and activates the plan it pays for
// POST /api/v1/subscriptions/verify
func (h *Handler) VerifySubscription(c *gin.Context) {
	userID := middleware.UserID(c)

	var req VerifySubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "Invalid request format: "+err.Error(), response.CodeInvalidRequest)
		return
	}

	platform, ok := models.ParsePlatform(req.Platform)
	if !ok {
		response.Error(c, http.StatusBadRequest, fmt.Sprintf("Unsupported platform %q", req.Platform), response.CodeInvalidRequest)
		return
	}

	startTime := time.Now()
	sub, receipt, err := h.subscriptions.VerifyAndActivate(c.Request.Context(), userID, platform, req.ReceiptData, req.ProductID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidReceipt), errors.Is(err, services.ErrUnknownProduct):
			logging.Infof("Receipt rejected - user_id: %s, platform: %s, product_id: %s, error: %v", userID, platform, req.ProductID, err)
			response.Error(c, http.StatusBadRequest, err.Error(), response.CodeReceiptVerificationFailed)
		case errors.Is(err, services.ErrStoreUnavailable):
			logging.Warnf("Store unavailable - user_id: %s, platform: %s, error: %v", userID, platform, err)
			c.Header("Retry-After", storeRetryAfterSeconds)
			response.Error(c, http.StatusServiceUnavailable, "Store temporarily unavailable, try again later", response.CodeStoreUnavailable)
		default:
			logging.Errorf("Receipt verification failed - user_id: %s, platform: %s, error: %v", userID, platform, err)
			response.InternalError(c)
		}
		return
	}

	logging.Infof("Receipt verified - user_id: %s, platform: %s, tier: %s, duration: %v",
		userID, platform, receipt.Tier, time.Since(startTime))

	resp := newSubscriptionResponse(sub, time.Now())
	c.JSON(http.StatusOK, VerifySubscriptionResponse{
		Success:      true,
		Subscription: &resp,
		Message:      fmt.Sprintf("Subscription activated: %s", sub.PlanTier),
	})
}
