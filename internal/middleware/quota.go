package middleware

import (
	"context"
	"net/http"

	"github.com/NolanEssertaize/Know-it-backend/internal/models"
	"github.com/NolanEssertaize/Know-it-backend/internal/response"
	"github.com/NolanEssertaize/Know-it-backend/internal/services"
	"github.com/NolanEssertaize/Know-it-backend/pkg/logging"

	"github.com/gin-gonic/gin"
)

// Admitter decides and charges metered actions
type Admitter interface {
	TryAdmit(ctx context.Context, userID string, kind models.ActionKind) (services.Decision, error)
}

// RequireQuota charges one unit of kind before the handler runs. The unit is
// not refunded when the handler fails. Must run after JWTAuth.
func RequireQuota(admitter Admitter, kind models.ActionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			unauthorized(c)
			return
		}

		decision, err := admitter.TryAdmit(c.Request.Context(), userID, kind)
		if err != nil {
			logging.Errorf("Admission failed - user_id: %s, kind: %s, error: %v", userID, kind, err)
			response.InternalError(c)
			return
		}
		if !decision.Admitted {
			response.Detail(c, http.StatusTooManyRequests, decision.Message())
			return
		}

		c.Set("admission", decision)
		c.Next()
	}
}
