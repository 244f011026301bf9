package sources

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/cache"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/database"
	apperrors "github.com/ZanzyTHEbar/slop-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/monitoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/scoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/tree"
)

const (
	minRating = 1
	maxRating = 5
)

// Service handles sources and the claims, votes, comments and flags filed
// against them. Scores and trees are cached under the data version they were
// computed from.
type Service struct {
	repo    *database.Repository
	cache   *cache.Cache
	metrics *monitoring.Metrics
	logger  *monitoring.Logger
	builder *tree.Builder
}

// NewService creates a new sources service. builder may be nil for English
// collation.
func NewService(repo *database.Repository, c *cache.Cache, metrics *monitoring.Metrics, logger *monitoring.Logger, builder *tree.Builder) *Service {
	if builder == nil {
		builder = tree.NewBuilder(tree.DefaultLanguage)
	}
	return &Service{
		repo:    repo,
		cache:   c,
		metrics: metrics,
		logger:  logger,
		builder: builder,
	}
}

// CreateSource registers a source, optionally under an existing parent
func (s *Service) CreateSource(ctx context.Context, name, url, parentID string) (*database.Source, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationErrorWithMap(map[string]string{"name": "is required"})
	}

	if parentID != "" {
		if _, err := s.repo.GetSource(ctx, parentID); err != nil {
			if apperrors.IsNotFound(err) {
				return nil, apperrors.NewValidationErrorWithMap(map[string]string{"parent_id": "does not exist"})
			}
			return nil, err
		}
	}

	src := database.NewSource(name, strings.TrimSpace(url), parentID)
	if err := s.repo.CreateSource(ctx, src); err != nil {
		return nil, err
	}

	slog.Info("Source created", "source_id", src.ID, "parent_id", parentID)
	return src, nil
}

// GetSource loads one source
func (s *Service) GetSource(ctx context.Context, id string) (*database.Source, error) {
	return s.repo.GetSource(ctx, id)
}

// SubmitClaim files a claim against a source
func (s *Service) SubmitClaim(ctx context.Context, sourceID, author string, impact, confidence int, evidence string) (*database.Claim, error) {
	invalid := make(map[string]string)
	if impact < minRating || impact > maxRating {
		invalid["impact"] = "must be between 1 and 5"
	}
	if confidence < minRating || confidence > maxRating {
		invalid["confidence"] = "must be between 1 and 5"
	}
	if len(invalid) > 0 {
		return nil, apperrors.NewValidationErrorWithMap(invalid)
	}

	claim := database.NewClaim(sourceID, author, impact, confidence, evidence)
	if err := s.repo.CreateClaim(ctx, claim); err != nil {
		return nil, err
	}

	slog.Info("Claim submitted", "claim_id", claim.ID, "source_id", sourceID, "impact", impact, "confidence", confidence)
	return claim, nil
}

// ListClaims returns a source's claims with their vote, comment and flag counts
func (s *Service) ListClaims(ctx context.Context, sourceID string) ([]database.Claim, error) {
	if _, err := s.repo.GetSource(ctx, sourceID); err != nil {
		return nil, err
	}
	return s.repo.ListClaims(ctx, sourceID)
}

// Vote records whether voter found a claim helpful. A repeat vote replaces
// the previous one.
func (s *Service) Vote(ctx context.Context, claimID, voter string, helpful bool) (*database.Vote, error) {
	vote := database.NewVote(claimID, voter, helpful)
	if err := s.repo.UpsertVote(ctx, vote); err != nil {
		return nil, err
	}
	return vote, nil
}

// AddComment attaches a comment to a claim
func (s *Service) AddComment(ctx context.Context, claimID, author, body string) (*database.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperrors.NewValidationErrorWithMap(map[string]string{"body": "is required"})
	}

	comment := database.NewComment(claimID, author, body)
	if err := s.repo.AddComment(ctx, comment); err != nil {
		return nil, err
	}
	return comment, nil
}

// ListComments returns a claim's comments, oldest first
func (s *Service) ListComments(ctx context.Context, claimID string) ([]database.Comment, error) {
	if _, err := s.repo.GetClaim(ctx, claimID); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, claimID)
}

// FlagClaim reports a claim for moderation
func (s *Service) FlagClaim(ctx context.Context, claimID, reporter, reason string) (*database.Flag, error) {
	flag := database.NewFlag(claimID, reporter, reason)
	if err := s.repo.AddFlag(ctx, flag); err != nil {
		return nil, err
	}

	slog.Info("Claim flagged", "claim_id", claimID, "reason", reason)
	return flag, nil
}

// Score returns the trust score of a source and whether it came from cache
func (s *Service) Score(ctx context.Context, sourceID string) (scoring.SourceScore, bool, error) {
	version, err := s.repo.ClaimVersion(ctx, sourceID)
	if err != nil {
		return scoring.SourceScore{}, false, err
	}

	if score, ok := s.cache.GetScore(sourceID, version); ok {
		s.record(sourceID, score, true)
		return score, true, nil
	}

	inputs, version, err := s.repo.ScoringInputs(ctx, sourceID)
	if err != nil {
		return scoring.SourceScore{}, false, err
	}

	score := scoring.ComputeScore(ToScoringClaims(inputs))
	s.cache.SetScore(sourceID, version, score)
	s.record(sourceID, score, false)
	return score, false, nil
}

func (s *Service) record(sourceID string, score scoring.SourceScore, cached bool) {
	if s.metrics != nil {
		s.metrics.RecordScore(int(score.Tier))
	}
	if s.logger != nil {
		s.logger.ScoreLogger(sourceID, int(score.Tier), score.NormalizedScore, score.ClaimCount, cached)
	}
}

// Tree returns the source hierarchy: the whole catalogue when rootID is
// empty, otherwise rootID and its descendants with rootID as the single root.
func (s *Service) Tree(ctx context.Context, rootID string) ([]*tree.TreeNode, error) {
	version, err := s.repo.CatalogueVersion(ctx)
	if err != nil {
		return nil, err
	}

	if roots, ok := s.cache.GetTree(rootID, version); ok {
		return roots, nil
	}

	rows, err := s.repo.ListNodes(ctx, rootID)
	if err != nil {
		return nil, err
	}

	nodes := make([]tree.Node, len(rows))
	for i, r := range rows {
		nodes[i] = tree.Node{ID: r.ID, Name: r.Name, ParentID: r.ParentID}
	}
	// The root's own parent is outside the subtree listing
	if rootID != "" {
		for i := range nodes {
			if nodes[i].ID == rootID {
				nodes[i].ParentID = ""
			}
		}
	}

	roots, err := s.builder.Build(nodes)
	if err != nil {
		slog.Error("Stored source hierarchy is invalid", "root_id", rootID, "error", err)
		return nil, err
	}

	s.cache.SetTree(rootID, version, roots)
	return roots, nil
}

// ToScoringClaims converts stored claim snapshots to scoring input
func ToScoringClaims(inputs []database.ScoringInput) []scoring.Claim {
	claims := make([]scoring.Claim, len(inputs))
	for i, in := range inputs {
		claims[i] = scoring.Claim{
			Impact:       in.Impact,
			Confidence:   in.Confidence,
			HelpfulVotes: in.HelpfulVotes,
		}
	}
	return claims
}
