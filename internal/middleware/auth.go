package middleware

import (
	"net/http"
	"strings"

	"github.com/NolanEssertaize/Know-it-backend/internal/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

// JWTAuth accepts bearer access tokens signed with secret and stores the subject as the user id.
// Tokens carrying a "type" claim must be access tokens.
func JWTAuth(secret, algorithm string) gin.HandlerFunc {
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{algorithm}),
		jwt.WithExpirationRequired(),
	)
	key := []byte(secret)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, tokenString, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
			unauthorized(c)
			return
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			unauthorized(c)
			return
		}

		userID, err := claims.GetSubject()
		if err != nil || userID == "" {
			unauthorized(c)
			return
		}
		if tokenType, ok := claims["type"]; ok && tokenType != "access" {
			unauthorized(c)
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id stored by JWTAuth
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Detail(c, http.StatusUnauthorized, "Not authenticated")
}
