package ratelimit

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/slop-o-meter/internal/errors"
)

// IdentityKey is the gin context key an auth layer sets to identify the caller
const IdentityKey = "user_id"

// Identity returns the caller's user id when one is set, otherwise the client IP
func Identity(c *gin.Context) string {
	if v, ok := c.Get(IdentityKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return "user:" + id
		}
	}
	return "ip:" + c.ClientIP()
}

// ActionMiddleware limits a mutation endpoint with the preset for action
func (rl *RateLimiter) ActionMiddleware(action Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Identity(c)

		result, err := rl.AllowAction(c.Request.Context(), action, identity)
		if err != nil {
			// a broken limiter must not take writes down with it
			slog.Error("Rate limit check failed", "action", action, "identity", identity, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if rl.metrics != nil {
			rl.metrics.RecordRateLimit(string(action), result.Allowed)
		}

		if !result.Allowed {
			if rl.logger != nil {
				rl.logger.RateLimitLogger(string(action), identity, result.Limit, result.RetryAfter)
			}

			appErr := apperrors.NewRateLimitError(string(action), result.RetryAfter)
			appErr.RequestID = c.GetHeader("X-Request-ID")

			c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
			return
		}

		c.Next()
	}
}
