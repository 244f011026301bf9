package main

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/slop-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/monitoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/ratelimit"
)

func (a *app) router() *gin.Engine {
	r := gin.New()

	// Outermost first: panics and timings must cover everything below
	r.Use(apperrors.RecoveryHandler())
	r.Use(monitoring.MonitoringMiddleware(a.metrics, a.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(a.logger))
	r.Use(a.security.CORS())
	if a.cfg.Server.Gzip {
		r.Use(a.compression.Handler())
	}
	r.Use(apperrors.ErrorHandler())
	r.Use(a.security.SecurityHeaders)
	r.Use(a.security.RequestTimeout)
	r.Use(a.security.ValidateContentType)
	r.Use(a.security.RateLimitByIP)

	var proxies []string
	if len(a.cfg.Security.TrustedProxies) > 0 {
		proxies = a.cfg.Security.TrustedProxies
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		slog.Warn("Invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}

	r.GET("/health", a.handleHealth)
	r.GET("/stats", a.handleStats)
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	r.GET("/tiers", a.handleTiers)
	r.GET("/privacy", a.handlePrivacy)
	r.GET("/ratelimit/status", a.limiter.HandleRateLimitStatus())
	r.GET("/leaderboard", a.handleLeaderboard)

	src := r.Group("/sources")
	{
		src.POST("", a.limiter.ActionMiddleware(ratelimit.ActionSource), a.handleCreateSource)
		src.GET("/tree", a.handleTree)
		src.GET("/:id", a.handleGetSource)
		src.GET("/:id/score", a.handleScore)
		src.POST("/:id/claims", a.limiter.ActionMiddleware(ratelimit.ActionClaim), a.handleSubmitClaim)
		src.GET("/:id/claims", a.handleListClaims)
	}

	claims := r.Group("/claims")
	{
		claims.POST("/:id/votes", a.limiter.ActionMiddleware(ratelimit.ActionVote), a.handleVote)
		claims.POST("/:id/comments", a.limiter.ActionMiddleware(ratelimit.ActionComment), a.handleAddComment)
		claims.GET("/:id/comments", a.handleListComments)
		claims.POST("/:id/flags", a.limiter.ActionMiddleware(ratelimit.ActionFlag), a.handleFlag)
	}

	if a.cfg.Admin.Enabled {
		admin := r.Group("/admin")
		{
			admin.GET("/ratelimits", a.limiter.HandleAdminRateLimits())
			admin.DELETE("/ratelimits/:action", a.limiter.HandleAdminResetAction())
			admin.DELETE("/ratelimits/:action/:identity", a.limiter.HandleAdminResetRateLimit())
			admin.POST("/ratelimits/sweep", a.limiter.HandleAdminSweep())
		}
		slog.Warn("Admin routes enabled without authentication")
	}

	return r
}
