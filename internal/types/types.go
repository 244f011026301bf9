package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/scoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/tree"
)

// CreateSourceRequest represents the request structure for POST /sources
type CreateSourceRequest struct {
	Name     string `json:"name" binding:"required,max=200,nocontrol"`
	URL      string `json:"url" binding:"omitempty,url,max=2048"`
	ParentID string `json:"parent_id" binding:"omitempty,max=64"`
}

// SubmitClaimRequest represents the request structure for POST /sources/:id/claims
type SubmitClaimRequest struct {
	Impact     int    `json:"impact" binding:"required,min=1,max=5"`
	Confidence int    `json:"confidence" binding:"required,min=1,max=5"`
	Evidence   string `json:"evidence" binding:"max=2000"`
	Author     string `json:"author" binding:"omitempty,max=64,nocontrol"`
}

// VoteRequest represents the request structure for POST /claims/:id/votes.
// Helpful is a pointer so an explicit false passes the required check.
type VoteRequest struct {
	Helpful *bool `json:"helpful" binding:"required"`
}

// CommentRequest represents the request structure for POST /claims/:id/comments
type CommentRequest struct {
	Body   string `json:"body" binding:"required,max=2000"`
	Author string `json:"author" binding:"omitempty,max=64,nocontrol"`
}

// FlagRequest represents the request structure for POST /claims/:id/flags
type FlagRequest struct {
	Reason string `json:"reason" binding:"required,oneof=spam abuse off_topic duplicate other"`
}

// ScoreResponse is the body of GET /sources/:id/score
type ScoreResponse struct {
	SourceID        string  `json:"source_id"`
	Tier            int     `json:"tier"`
	Label           string  `json:"label"`
	RawScore        float64 `json:"raw_score"`
	NormalizedScore float64 `json:"normalized_score"`
	ClaimCount      int     `json:"claim_count"`
	MaxClaimWeight  float64 `json:"max_claim_weight"`
	Cached          bool    `json:"cached"`
}

// NewScoreResponse flattens a computed score for the wire
func NewScoreResponse(sourceID string, s scoring.SourceScore, cached bool) ScoreResponse {
	return ScoreResponse{
		SourceID:        sourceID,
		Tier:            int(s.Tier),
		Label:           s.Tier.Label(),
		RawScore:        s.RawScore,
		NormalizedScore: s.NormalizedScore,
		ClaimCount:      s.ClaimCount,
		MaxClaimWeight:  scoring.MaxClaimWeight(),
		Cached:          cached,
	}
}

// TreeResponse is the body of GET /sources/tree
type TreeResponse struct {
	Root  string           `json:"root,omitempty"`
	Roots []*tree.TreeNode `json:"roots"`
	Count int              `json:"count"`
}

// NewTreeResponse counts the nodes in roots
func NewTreeResponse(rootID string, roots []*tree.TreeNode) TreeResponse {
	count := 0
	tree.Walk(roots, func(*tree.TreeNode, int) { count++ })
	if roots == nil {
		roots = []*tree.TreeNode{}
	}
	return TreeResponse{Root: rootID, Roots: roots, Count: count}
}

// RegisterValidators installs the custom binding tags on gin's validator
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding validator is not go-playground/validator")
	}
	return v.RegisterValidation("nocontrol", validateNoControl)
}

// validateNoControl rejects strings carrying control characters or only
// whitespace
func validateNoControl(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s != "" && strings.TrimSpace(s) == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ValidationMessages maps binding failures to field -> message. ok is false
// when err did not come from the validator.
func ValidationMessages(err error) (map[string]string, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, false
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			out[field] = "is required"
		case "min", "max":
			out[field] = fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
		case "oneof":
			out[field] = "must be one of: " + fe.Param()
		case "nocontrol":
			out[field] = "contains invalid characters"
		default:
			out[field] = "is invalid (" + fe.Tag() + ")"
		}
	}
	return out, true
}
