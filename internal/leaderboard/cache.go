package leaderboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/cache"
)

// LeaderboardCache provides caching for leaderboard data. Entries are keyed by
// ranking version, so any mutation makes older entries unreachable.
type LeaderboardCache struct {
	cache *cache.Cache
}

// NewLeaderboardCache wraps the shared cache
func NewLeaderboardCache(c *cache.Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: c}
}

func (lc *LeaderboardCache) generateCacheKey(version int64, limit, minClaims int) string {
	return fmt.Sprintf("leaderboard:v%d:%d:%d", version, limit, minClaims)
}

// GetLeaderboard retrieves cached leaderboard data
func (lc *LeaderboardCache) GetLeaderboard(version int64, limit, minClaims int) (*LeaderboardResponse, bool) {
	v, found := lc.cache.Get(lc.generateCacheKey(version, limit, minClaims))
	if !found {
		return nil, false
	}

	resp, ok := v.(*LeaderboardResponse)
	if !ok {
		return nil, false
	}

	slog.Debug("Leaderboard cache hit", "version", version, "limit", limit)
	return resp, true
}

// SetLeaderboard caches leaderboard data
func (lc *LeaderboardCache) SetLeaderboard(version int64, limit, minClaims int, response *LeaderboardResponse) {
	lc.cache.Set(lc.generateCacheKey(version, limit, minClaims), response)
	slog.Debug("Leaderboard cached", "version", version, "limit", limit, "entries", len(response.Entries))
}

// WarmCache pre-populates the default leaderboard
func (lc *LeaderboardCache) WarmCache(ctx context.Context, service *Service) {
	if _, err := service.Sloppiest(ctx, DefaultLimit, 1); err != nil {
		slog.Error("Failed to warm leaderboard cache", "error", err)
		return
	}
	slog.Info("Leaderboard cache warmed")
}
