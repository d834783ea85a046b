package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter counts hits per key. cache.RateLimiter implements it over Redis.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int64, error)
	Window() time.Duration
}

// CartRateLimit caps cart mutations per user. A nil limiter disables it,
// and a failing limiter lets requests through.
func CartRateLimit(limiter Limiter, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ctxUserID)
		if limiter == nil || userID == "" {
			c.Next()
			return
		}

		ok, remaining, err := limiter.Allow(c.Request.Context(), userID)
		if err != nil {
			log.Warn("cart rate limit unavailable", "user_id", userID, "error", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many cart updates, slow down",
				"code":        "rate_limited",
				"retry_after": int(limiter.Window().Seconds()),
			})
			return
		}
		c.Next()
	}
}
