package ratelimit

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/slop-o-meter/internal/errors"
)

// HandleRateLimitStatus returns the caller's standing against every preset
// without consuming any of it
func (rl *RateLimiter) HandleRateLimitStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Identity(c)

		actions := make([]string, 0, len(rl.config.Presets))
		for action := range rl.config.Presets {
			actions = append(actions, string(action))
		}
		sort.Strings(actions)

		limits := make(gin.H, len(actions))
		for _, name := range actions {
			action := Action(name)
			r := rl.config.Presets[action]
			res := rl.Peek(Key(action, identity), r)
			limits[name] = gin.H{
				"limit":          res.Limit,
				"remaining":      res.Remaining,
				"window_seconds": int(r.Window.Seconds()),
				"reset_at":       res.ResetAt.Unix(),
				"retry_after":    res.RetryAfter,
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"identity":  identity,
			"limits":    limits,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// HandleAdminRateLimits returns limiter state and decision counters (admin only)
func (rl *RateLimiter) HandleAdminRateLimits() gin.HandlerFunc {
	return func(c *gin.Context) {
		var rateLimitMetrics map[string]interface{}
		if rl.metrics != nil {
			rateLimitMetrics = rl.metrics.GetRateLimitStats()
		}

		c.JSON(http.StatusOK, gin.H{
			"total_keys":    rl.KeyCount(),
			"limiter_stats": rl.Stats(),
			"metrics":       rateLimitMetrics,
			"timestamp":     time.Now().Format(time.RFC3339),
		})
	}
}

// HandleAdminResetRateLimit clears one identity's window for an action (admin only)
func (rl *RateLimiter) HandleAdminResetRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		action := Action(c.Param("action"))
		identity := c.Param("identity")

		if _, ok := rl.Preset(action); !ok {
			_ = c.Error(apperrors.NewNotFoundError("rate limit action", string(action)))
			return
		}
		if identity == "" {
			_ = c.Error(apperrors.NewValidationError("identity is required", nil))
			return
		}

		existed := rl.Reset(Key(action, identity))

		c.JSON(http.StatusOK, gin.H{
			"message":   "rate limit reset successfully",
			"action":    action,
			"identity":  identity,
			"existed":   existed,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// HandleAdminResetAction clears every window for an action (admin only)
func (rl *RateLimiter) HandleAdminResetAction() gin.HandlerFunc {
	return func(c *gin.Context) {
		action := Action(c.Param("action"))

		if _, ok := rl.Preset(action); !ok {
			_ = c.Error(apperrors.NewNotFoundError("rate limit action", string(action)))
			return
		}

		removed := rl.ResetPrefix(string(action) + ":")

		c.JSON(http.StatusOK, gin.H{
			"message":   "rate limits invalidated successfully",
			"action":    action,
			"removed":   removed,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// HandleAdminSweep runs the stale window sweep immediately (admin only)
func (rl *RateLimiter) HandleAdminSweep() gin.HandlerFunc {
	return func(c *gin.Context) {
		removed := rl.Sweep()

		c.JSON(http.StatusOK, gin.H{
			"removed":   removed,
			"remaining": rl.KeyCount(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}
