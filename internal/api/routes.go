package api

import (
	"context"
	"net/http"
	"time"

	"github.com/NolanEssertaize/Know-it-backend/internal/database"
	"github.com/NolanEssertaize/Know-it-backend/internal/metrics"
	"github.com/NolanEssertaize/Know-it-backend/internal/middleware"
	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/internal/ratelimit"
	"github.com/NolanEssertaize/Know-it-backend/internal/response"
	"github.com/NolanEssertaize/Know-it-backend/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Dependencies wires the handlers to the admission engine
type Dependencies struct {
	Subscriptions *services.SubscriptionService
	Admission     *services.AdmissionController
	Notifications *services.StoreNotificationService // nil disables store notifications
	Limiter       ratelimit.Limiter
	DB            *gorm.DB

	JWTSecret         string
	JWTAlgorithm      string
	NotificationToken string

	// Metered business operations; they run only after quota admission
	AnalysisHandler  gin.HandlerFunc
	FlashcardHandler gin.HandlerFunc
}

// Handler serves the subscription endpoints
type Handler struct {
	subscriptions *services.SubscriptionService
	admission     *services.AdmissionController
	notifications *services.StoreNotificationService
	db            *gorm.DB
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	h := &Handler{
		subscriptions: deps.Subscriptions,
		admission:     deps.Admission,
		notifications: deps.Notifications,
		db:            deps.DB,
	}

	analysis := deps.AnalysisHandler
	if analysis == nil {
		analysis = NotImplemented
	}
	flashcards := deps.FlashcardHandler
	if flashcards == nil {
		flashcards = NotImplemented
	}

	auth := middleware.JWTAuth(deps.JWTSecret, deps.JWTAlgorithm)
	limit := func(class ratelimit.Class) gin.HandlerFunc {
		return ratelimit.Middleware(deps.Limiter, class)
	}

	r.Use(metrics.Middleware())
	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	{
		api.GET("/health", h.Health)

		subscriptions := api.Group("/subscriptions")
		{
			subscriptions.GET("", limit(ratelimit.ClassDefault), auth, h.GetSubscription)
			subscriptions.GET("/usage", limit(ratelimit.ClassDefault), auth, h.GetUsage)
			subscriptions.POST("/verify", limit(ratelimit.ClassVerify), auth, h.VerifySubscription)

			// Store server notifications (the stores call these, no user identity)
			if h.notifications != nil && deps.NotificationToken != "" {
				notifications := subscriptions.Group("/notifications")
				notifications.Use(limit(ratelimit.ClassDefault), middleware.NotificationTokenAuth(deps.NotificationToken))
				{
					notifications.POST("/apple", h.AppleNotification)
					notifications.POST("/google", h.GoogleNotification)
				}
			}
		}

		api.POST("/analysis", limit(ratelimit.ClassAI), auth,
			middleware.RequireQuota(deps.Admission, models.ActionSession), analysis)
		api.POST("/flashcards/generate", limit(ratelimit.ClassAI), auth,
			middleware.RequireQuota(deps.Admission, models.ActionGeneration), flashcards)
	}
}

// Health reports service and database liveness
func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx, h.db); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": "admission-service",
	})
}

// NotImplemented answers metered routes whose business operation is not wired into this process
func NotImplemented(c *gin.Context) {
	response.Error(c, http.StatusNotImplemented, "Not implemented", response.CodeNotImplemented)
}
