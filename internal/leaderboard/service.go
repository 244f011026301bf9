package leaderboard

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/database"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/scoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/sources"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// LeaderboardEntry is one ranked source
type LeaderboardEntry struct {
	Rank            int     `json:"rank"`
	SourceID        string  `json:"source_id"`
	Name            string  `json:"name"`
	URL             string  `json:"url,omitempty"`
	Tier            int     `json:"tier"`
	Label           string  `json:"label"`
	NormalizedScore float64 `json:"normalized_score"`
	ClaimCount      int     `json:"claim_count"`
}

// LeaderboardResponse represents the response for leaderboard queries
type LeaderboardResponse struct {
	Entries     []LeaderboardEntry `json:"entries"`
	Total       int                `json:"total"`
	MinClaims   int                `json:"min_claims"`
	Version     int64              `json:"version"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Service ranks sources from most to least slop
type Service struct {
	repo  *database.Repository
	cache *LeaderboardCache
}

// NewService creates a new leaderboard service
func NewService(repo *database.Repository, cache *LeaderboardCache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Sloppiest returns up to limit sources with at least minClaims claims,
// highest normalized score first. Equal scores rank by claim count, then id.
func (s *Service) Sloppiest(ctx context.Context, limit, minClaims int) (*LeaderboardResponse, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if minClaims < 1 {
		minClaims = 1
	}

	version, err := s.repo.RankingVersion(ctx)
	if err != nil {
		return nil, err
	}

	if resp, ok := s.cache.GetLeaderboard(version, limit, minClaims); ok {
		return resp, nil
	}

	srcs, err := s.repo.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	inputs, err := s.repo.AllScoringInputs(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(inputs))
	for _, src := range srcs {
		claims := inputs[src.ID]
		if len(claims) < minClaims {
			continue
		}

		score := scoring.ComputeScore(sources.ToScoringClaims(claims))
		entries = append(entries, LeaderboardEntry{
			SourceID:        src.ID,
			Name:            src.Name,
			URL:             src.URL,
			Tier:            int(score.Tier),
			Label:           score.Tier.Label(),
			NormalizedScore: score.NormalizedScore,
			ClaimCount:      score.ClaimCount,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.NormalizedScore != b.NormalizedScore {
			return a.NormalizedScore > b.NormalizedScore
		}
		if a.ClaimCount != b.ClaimCount {
			return a.ClaimCount > b.ClaimCount
		}
		return a.SourceID < b.SourceID
	})

	total := len(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}

	resp := &LeaderboardResponse{
		Entries:     entries,
		Total:       total,
		MinClaims:   minClaims,
		Version:     version,
		GeneratedAt: time.Now().UTC(),
	}
	s.cache.SetLeaderboard(version, limit, minClaims, resp)

	slog.Debug("Leaderboard computed", "version", version, "ranked", total, "returned", len(entries))
	return resp, nil
}
