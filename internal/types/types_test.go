package types

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/scoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/tree"
)

func TestBindingTags(t *testing.T) {
	require.NoError(t, RegisterValidators())

	yes := true
	tests := []struct {
		name  string
		obj   interface{}
		valid bool
	}{
		{"claim ok", &SubmitClaimRequest{Impact: 3, Confidence: 5}, true},
		{"claim impact too high", &SubmitClaimRequest{Impact: 6, Confidence: 5}, false},
		{"claim missing confidence", &SubmitClaimRequest{Impact: 1}, false},
		{"source ok", &CreateSourceRequest{Name: "Daily Bugle", URL: "https://bugle.example"}, true},
		{"source control char", &CreateSourceRequest{Name: "bad\x00name"}, false},
		{"source blank name", &CreateSourceRequest{Name: "   "}, false},
		{"source bad url", &CreateSourceRequest{Name: "x", URL: "not a url"}, false},
		{"vote explicit false", &VoteRequest{Helpful: new(bool)}, true},
		{"vote missing", &VoteRequest{}, false},
		{"vote true", &VoteRequest{Helpful: &yes}, true},
		{"flag reason", &FlagRequest{Reason: "spam"}, true},
		{"flag unknown reason", &FlagRequest{Reason: "boring"}, false},
		{"comment empty", &CommentRequest{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := binding.Validator.ValidateStruct(tt.obj)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidationMessages(t *testing.T) {
	require.NoError(t, RegisterValidators())

	err := binding.Validator.ValidateStruct(&SubmitClaimRequest{Impact: 9})
	msgs, ok := ValidationMessages(err)
	require.True(t, ok)
	assert.Equal(t, "must satisfy max=5", msgs["impact"])
	assert.Equal(t, "is required", msgs["confidence"])

	_, ok = ValidationMessages(assert.AnError)
	assert.False(t, ok)
}

func TestResponses(t *testing.T) {
	score := scoring.ComputeScore([]scoring.Claim{{Impact: 5, Confidence: 5, HelpfulVotes: 3}})
	resp := NewScoreResponse("src", score, true)
	assert.Equal(t, "src", resp.SourceID)
	assert.Equal(t, int(score.Tier), resp.Tier)
	assert.Equal(t, score.Tier.Label(), resp.Label)
	assert.Equal(t, 50.0, resp.MaxClaimWeight)
	assert.True(t, resp.Cached)

	roots, err := tree.Build([]tree.Node{{ID: "a", Name: "A"}, {ID: "b", Name: "B", ParentID: "a"}})
	require.NoError(t, err)
	tr := NewTreeResponse("", roots)
	assert.Equal(t, 2, tr.Count)

	empty := NewTreeResponse("", nil)
	assert.NotNil(t, empty.Roots)
	assert.Equal(t, 0, empty.Count)
}
