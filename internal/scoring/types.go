package scoring

// Claim is the scoring view of a single user-submitted claim.
type Claim struct {
	Impact       int `json:"impact"`
	Confidence   int `json:"confidence"`
	HelpfulVotes int `json:"helpful_votes"`
}

// Tier is the ordinal slop classification of a source.
type Tier int

const (
	TierArtisanal Tier = iota
	TierMostlyHuman
	TierQuestionable
	TierCompromised
	TierSlop
)

var tierLabels = [...]string{
	TierArtisanal:    "Artisanal",
	TierMostlyHuman:  "Mostly Human",
	TierQuestionable: "Questionable",
	TierCompromised:  "Compromised",
	TierSlop:         "Slop",
}

// Label returns the display name of the tier.
func (t Tier) Label() string {
	if t < TierArtisanal || t > TierSlop {
		return "Unknown"
	}
	return tierLabels[t]
}

type SourceScore struct {
	Tier            Tier    `json:"tier"`
	RawScore        float64 `json:"raw_score"`
	NormalizedScore float64 `json:"normalized_score"`
	ClaimCount      int     `json:"claim_count"`
}

// TierInfo describes one rung of the tier ladder. Max is 0 for the open-ended top tier.
type TierInfo struct {
	Tier  Tier    `json:"tier"`
	Label string  `json:"label"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max,omitempty"`
}
