package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/cache"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/config"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/database"
	apperrors "github.com/ZanzyTHEbar/slop-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/leaderboard"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/middleware"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/monitoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/privacy"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/ratelimit"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/security"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/sources"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/tree"
)

const idleLimiterTTL = 10 * time.Minute

// app holds every long-lived component of the server
type app struct {
	cfg *config.Config

	db          *database.DB
	repo        *database.Repository
	sources     *sources.Service
	leaderboard *leaderboard.Service
	limiter     *ratelimit.RateLimiter
	security    *security.SecurityMiddleware
	compression *middleware.CompressionMiddleware
	privacy     *privacy.PrivacyService
	cache       *cache.Cache
	metrics     *monitoring.Metrics
	logger      *monitoring.Logger
	startedAt   time.Time

	cancel context.CancelFunc
}

func newApp(cfg *config.Config, logger *monitoring.Logger) (*app, error) {
	db, err := database.NewDB(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	metrics := monitoring.NewMetrics()
	c := cache.NewCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval, metrics)
	repo := database.NewRepository(db)

	sec := security.NewSecurityMiddleware(security.SecurityConfig{
		MaxTextLength:     cfg.Security.MaxTextLength,
		MaxRequestsPerMin: cfg.Security.MaxRequestsPerMin,
		AllowedOrigins:    cfg.Security.AllowedOrigins,
		TrustedProxies:    cfg.Security.TrustedProxies,
		RequestTimeout:    cfg.Security.RequestTimeout,
		IdleLimiterTTL:    idleLimiterTTL,
		EnableHSTS:        cfg.Security.EnableHSTS,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sec.StartCleanup(ctx, time.Minute)

	lbCache := leaderboard.NewLeaderboardCache(c)
	lbService := leaderboard.NewService(repo, lbCache)

	a := &app{
		cfg:         cfg,
		db:          db,
		repo:        repo,
		sources:     sources.NewService(repo, c, metrics, logger, tree.NewBuilder(cfg.Language())),
		leaderboard: lbService,
		limiter:     ratelimit.NewRateLimiter(cfg.LimiterConfig(), metrics, ratelimit.WithLogger(logger)),
		security:    sec,
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
		privacy:     privacy.NewService(cfg.Privacy.Salt),
		cache:       c,
		metrics:     metrics,
		logger:      logger,
		startedAt:   time.Now(),
		cancel:      cancel,
	}

	lbCache.WarmCache(ctx, lbService)

	logger.SystemLogger("startup", fmt.Sprintf("data_dir=%s locale=%s admin=%t", cfg.Store.DataDir, cfg.Language(), cfg.Admin.Enabled))
	return a, nil
}

// Close stops background work and releases the database
func (a *app) Close() {
	a.cancel()
	a.limiter.Close()
	apperrors.SafeClose(a.db, "database")
}
