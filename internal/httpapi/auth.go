package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// operatorAuth guards operator routes with the configured owner key. The
// key arrives as a bearer token or an X-API-Key header.
func operatorAuth(ownerKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-API-Key")
		if presented == "" {
			auth := c.GetHeader("Authorization")
			if strings.HasPrefix(auth, bearerPrefix) {
				presented = strings.TrimPrefix(auth, bearerPrefix)
			}
		}

		if presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(ownerKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Next()
	}
}
