package auth

import (
	"net/http"
	"strings"

	"tabi/internal/response"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "userID"

// Middleware checks the bearer access token and stores the user id in the context.
func Middleware(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Fail(c, http.StatusUnauthorized, "NO_AUTH_HEADER", "Authorization required", nil)
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			response.Fail(c, http.StatusUnauthorized, "INVALID_AUTH_HEADER", "Authorization header must be a bearer token", nil)
			return
		}

		userID, err := tokens.Parse(strings.TrimSpace(raw), AccessToken)
		if err != nil {
			response.Error(c, err)
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the id stored by Middleware.
func UserID(c *gin.Context) uint {
	return c.GetUint(UserIDKey)
}
