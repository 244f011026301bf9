package database

import (
	"time"

	"github.com/google/uuid"
)

// Source is a publication, article or excerpt that claims are filed against.
// Sources nest through ParentID.
type Source struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	URL          string    `json:"url,omitempty" db:"url"`
	ParentID     string    `json:"parent_id,omitempty" db:"parent_id"`
	ClaimVersion int64     `json:"claim_version" db:"claim_version"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Claim is one user's assertion about how much of a source is machine written
type Claim struct {
	ID         string    `json:"id" db:"id"`
	SourceID   string    `json:"source_id" db:"source_id"`
	Author     string    `json:"author" db:"author"`
	Impact     int       `json:"impact" db:"impact"`
	Confidence int       `json:"confidence" db:"confidence"`
	Evidence   string    `json:"evidence,omitempty" db:"evidence"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`

	// Aggregates filled by list queries
	HelpfulVotes   int `json:"helpful_votes"`
	UnhelpfulVotes int `json:"unhelpful_votes"`
	CommentCount   int `json:"comment_count"`
	FlagCount      int `json:"flag_count"`
}

// Vote records whether a voter found a claim helpful. One per voter per claim.
type Vote struct {
	ClaimID   string    `json:"claim_id" db:"claim_id"`
	Voter     string    `json:"voter" db:"voter"`
	Helpful   bool      `json:"helpful" db:"helpful"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Comment is free-text discussion on a claim
type Comment struct {
	ID        string    `json:"id" db:"id"`
	ClaimID   string    `json:"claim_id" db:"claim_id"`
	Author    string    `json:"author" db:"author"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Flag reports a claim for moderator review
type Flag struct {
	ID        string    `json:"id" db:"id"`
	ClaimID   string    `json:"claim_id" db:"claim_id"`
	Reporter  string    `json:"reporter" db:"reporter"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SourceNode is the flat id/name/parent row used to assemble hierarchies
type SourceNode struct {
	ID       string
	Name     string
	ParentID string
}

// ScoringInput is the per-claim data the score is computed from
type ScoringInput struct {
	Impact       int
	Confidence   int
	HelpfulVotes int
}

// NewSource creates a source with a generated ID
func NewSource(name, url, parentID string) *Source {
	return &Source{
		ID:        uuid.New().String(),
		Name:      name,
		URL:       url,
		ParentID:  parentID,
		CreatedAt: time.Now().UTC(),
	}
}

// NewClaim creates a claim with a generated ID
func NewClaim(sourceID, author string, impact, confidence int, evidence string) *Claim {
	return &Claim{
		ID:         uuid.New().String(),
		SourceID:   sourceID,
		Author:     author,
		Impact:     impact,
		Confidence: confidence,
		Evidence:   evidence,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewVote creates a vote stamped now
func NewVote(claimID, voter string, helpful bool) *Vote {
	return &Vote{
		ClaimID:   claimID,
		Voter:     voter,
		Helpful:   helpful,
		CreatedAt: time.Now().UTC(),
	}
}

// NewComment creates a comment with a generated ID
func NewComment(claimID, author, body string) *Comment {
	return &Comment{
		ID:        uuid.New().String(),
		ClaimID:   claimID,
		Author:    author,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}

// NewFlag creates a flag with a generated ID
func NewFlag(claimID, reporter, reason string) *Flag {
	return &Flag{
		ID:        uuid.New().String(),
		ClaimID:   claimID,
		Reporter:  reporter,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}
