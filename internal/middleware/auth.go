package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
	"github.com/campusconnect/ecsbridge/pkg/response"
)

// AdminAuth guards the admin API with a static bearer token. An empty
// configured token disables the API entirely rather than leaving it open.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		header := c.GetHeader("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Next()
	}
}
