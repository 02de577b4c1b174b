package api

import (
	"net/http"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/middleware"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/internal/response"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"

	"github.com/gin-gonic/gin"
)

// SubscriptionResponse is the client view of a subscription
type SubscriptionResponse struct {
	ID             string                    `json:"id"`
	PlanType       models.PlanTier           `json:"plan_type"`
	Status         models.SubscriptionStatus `json:"status"`
	StorePlatform  *models.StorePlatform     `json:"store_platform"`
	StoreProductID *string                   `json:"store_product_id"`
	ExpiresAt      *time.Time                `json:"expires_at"`
	IsActive       bool                      `json:"is_active"`
	CreatedAt      time.Time                 `json:"created_at"`
}

func newSubscriptionResponse(sub *models.Subscription, now time.Time) SubscriptionResponse {
	resp := SubscriptionResponse{
		ID:             sub.ID,
		PlanType:       sub.PlanTier,
		Status:         sub.Status,
		StoreProductID: sub.StoreProductID,
		ExpiresAt:      sub.ExpiresAt,
		IsActive:       sub.IsActive(now),
		CreatedAt:      sub.CreatedAt,
	}
	if sub.StorePlatform != models.PlatformNone {
		platform := sub.StorePlatform
		resp.StorePlatform = &platform
	}
	return resp
}

// UsageResponse is today's usage with the limits of the effective plan
type UsageResponse struct {
	UsageDate            string          `json:"usage_date"`
	SessionsUsed         int             `json:"sessions_used"`
	SessionsLimit        int             `json:"sessions_limit"`
	SessionsRemaining    int             `json:"sessions_remaining"`
	GenerationsUsed      int             `json:"generations_used"`
	GenerationsLimit     int             `json:"generations_limit"`
	GenerationsRemaining int             `json:"generations_remaining"`
	PlanType             models.PlanTier `json:"plan_type"`
}

// GetSubscription returns the caller's subscription, creating the free plan on first call
// GET /api/v1/subscriptions
func (h *Handler) GetSubscription(c *gin.Context) {
	userID := middleware.UserID(c)

	sub, err := h.subscriptions.Get(c.Request.Context(), userID)
	if err != nil {
		logging.Errorf("Failed to get subscription - user_id: %s, error: %v", userID, err)
		response.InternalError(c)
		return
	}

	c.JSON(http.StatusOK, newSubscriptionResponse(sub, time.Now()))
}

// GetUsage returns today's usage and limits
// GET /api/v1/subscriptions/usage
func (h *Handler) GetUsage(c *gin.Context) {
	userID := middleware.UserID(c)

	report, err := h.admission.Usage(c.Request.Context(), userID)
	if err != nil {
		logging.Errorf("Failed to get usage - user_id: %s, error: %v", userID, err)
		response.InternalError(c)
		return
	}

	c.JSON(http.StatusOK, UsageResponse{
		UsageDate:            report.UsageDate,
		SessionsUsed:         report.SessionsUsed,
		SessionsLimit:        report.SessionsLimit,
		SessionsRemaining:    report.SessionsRemaining,
		GenerationsUsed:      report.GenerationsUsed,
		GenerationsLimit:     report.GenerationsLimit,
		GenerationsRemaining: report.GenerationsRemaining,
		PlanType:             report.Tier,
	})
}
