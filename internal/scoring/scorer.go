package scoring

import (
	"math"
	"sort"
)

var (
	// lower bounds of tiers 1..4; a score below tierThresholds[0] is tier 0
	tierThresholds = [...]float64{5, 15, 35, 60}

	// reference ceiling for weight bars: impact 5 * confidence 5 * ~2x helpful multiplier
	maxClaimWeight float64 = 50
)

func helpfulFactor(votes int) float64 {
	if votes < 0 {
		votes = 0
	}
	return math.Max(1, 1+math.Log(float64(votes)+1))
}

// ClaimWeight returns helpfulFactor * impact * confidence for a single claim.
func ClaimWeight(c Claim) float64 {
	return helpfulFactor(c.HelpfulVotes) * float64(c.Impact) * float64(c.Confidence)
}

// MaxClaimWeight is the display ceiling used to normalize weight bars.
// It plays no part in classification.
func MaxClaimWeight() float64 { return maxClaimWeight }

// TierForScore maps a normalized score onto the tier ladder.
// Lower bounds are inclusive, upper bounds exclusive.
func TierForScore(normalized float64) Tier {
	tier := TierArtisanal
	for i, threshold := range tierThresholds {
		if normalized >= threshold {
			tier = Tier(i + 1)
		}
	}
	return tier
}

// Tiers returns the ladder in ascending order.
func Tiers() []TierInfo {
	out := make([]TierInfo, 0, len(tierLabels))
	lo := 0.0
	for i := range tierLabels {
		info := TierInfo{Tier: Tier(i), Label: Tier(i).Label(), Min: lo}
		if i < len(tierThresholds) {
			info.Max = tierThresholds[i]
			lo = tierThresholds[i]
		}
		out = append(out, info)
	}
	return out
}

// ComputeScore aggregates the claims of one source into a SourceScore.
//
// The raw score is the sum of claim weights; it is divided by sqrt(n) so that
// flooding a source with many low-weight claims moves it less than a few
// strong ones. The result only depends on the multiset of claims.
func ComputeScore(claims []Claim) SourceScore {
	if len(claims) == 0 {
		return SourceScore{Tier: TierArtisanal}
	}

	// summed in ascending order so float rounding cannot depend on input order
	weights := make([]float64, len(claims))
	for i, c := range claims {
		weights[i] = ClaimWeight(c)
	}
	sort.Float64s(weights)

	raw := 0.0
	for _, w := range weights {
		raw += w
	}

	n := len(claims)
	normalized := raw / math.Sqrt(float64(n))

	return SourceScore{
		Tier:            TierForScore(normalized),
		RawScore:        raw,
		NormalizedScore: normalized,
		ClaimCount:      n,
	}
}
