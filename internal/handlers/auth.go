package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// bearerAuth builds the constant-time bearer-token middleware required
// on /api/v1/locate and /api/v1/report. /v2/geosubmit carries no auth,
// so it never wraps this middleware.
func bearerAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		given := []byte(strings.TrimPrefix(header, prefix))
		if len(given) != len(expected) || subtle.ConstantTimeCompare(given, expected) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
