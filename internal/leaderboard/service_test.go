package leaderboard

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/cache"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/database"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/monitoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/sources"
)

func setup(t *testing.T) (*Service, *sources.Service, *monitoring.Metrics) {
	t.Helper()

	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(db)
	metrics := monitoring.NewMetrics()
	c := cache.NewCache(time.Minute, time.Minute, metrics)

	return NewService(repo, NewLeaderboardCache(c)), sources.NewService(repo, c, metrics, nil, nil), metrics
}

func TestSloppiestRanking(t *testing.T) {
	lb, svc, _ := setup(t)
	ctx := context.Background()

	clean, err := svc.CreateSource(ctx, "Clean", "", "")
	require.NoError(t, err)
	sloppy, err := svc.CreateSource(ctx, "Sloppy", "", "")
	require.NoError(t, err)
	_, err = svc.CreateSource(ctx, "Unrated", "", "")
	require.NoError(t, err)

	_, err = svc.SubmitClaim(ctx, clean.ID, "a", 1, 1, "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = svc.SubmitClaim(ctx, sloppy.ID, "a", 5, 5, "")
		require.NoError(t, err)
	}

	resp, err := lb.Sloppiest(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Entries[0].Rank)
	assert.Equal(t, sloppy.ID, resp.Entries[0].SourceID)
	// 75 / sqrt(3) is about 43.3
	assert.Equal(t, "Compromised", resp.Entries[0].Label)
	assert.InDelta(t, 75/math.Sqrt(3), resp.Entries[0].NormalizedScore, 1e-9)
	assert.Equal(t, clean.ID, resp.Entries[1].SourceID)

	resp, err = lb.Sloppiest(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, sloppy.ID, resp.Entries[0].SourceID)

	resp, err = lb.Sloppiest(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, resp.Entries, 1)
	assert.Equal(t, 2, resp.Total)
}

func TestSloppiestCacheFollowsVersion(t *testing.T) {
	lb, svc, metrics := setup(t)
	ctx := context.Background()

	src, err := svc.CreateSource(ctx, "src", "", "")
	require.NoError(t, err)
	_, err = svc.SubmitClaim(ctx, src.ID, "a", 2, 2, "")
	require.NoError(t, err)

	first, err := lb.Sloppiest(ctx, 0, 0)
	require.NoError(t, err)
	hits := metrics.CacheHits

	again, err := lb.Sloppiest(ctx, DefaultLimit, 1)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, hits+1, metrics.CacheHits)

	_, err = svc.SubmitClaim(ctx, src.ID, "b", 5, 5, "")
	require.NoError(t, err)

	fresh, err := lb.Sloppiest(ctx, DefaultLimit, 1)
	require.NoError(t, err)
	assert.Greater(t, fresh.Version, first.Version)
	assert.Equal(t, 2, fresh.Entries[0].ClaimCount)
}

func TestWarmCache(t *testing.T) {
	lb, svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.CreateSource(ctx, "src", "", "")
	require.NoError(t, err)

	lb.cache.WarmCache(ctx, lb)

	version, err := lb.repo.RankingVersion(ctx)
	require.NoError(t, err)
	_, ok := lb.cache.GetLeaderboard(version, DefaultLimit, 1)
	assert.True(t, ok)
}
