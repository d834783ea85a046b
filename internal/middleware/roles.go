package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shop_back_end/internal/models"
)

// RequireRole lets the request through only when allowed accepts the caller's role.
// It must run after AuthRequired.
func RequireRole(allowed func(models.Role) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allowed(Actor(c).Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role", "code": "forbidden"})
			return
		}
		c.Next()
	}
}
