package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	apperrors "github.com/ZanzyTHEbar/slop-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/resilience"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, apperrors.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", kind, err)
}

// IsBusy reports whether err is sqlite lock contention worth retrying
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// withTx runs fn in a transaction, retrying the whole transaction while the
// database is locked by another writer
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return resilience.Retry(ctx, IsBusy, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// CreateSource inserts a source and bumps the catalogue version
func (r *Repository) CreateSource(ctx context.Context, s *Source) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var parent interface{}
		if s.ParentID != "" {
			parent = s.ParentID
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sources (id, name, url, parent_id, claim_version, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, s.ID, s.Name, s.URL, parent, s.ClaimVersion, s.CreatedAt); err != nil {
			return fmt.Errorf("failed to create source: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE counters SET value = value + 1 WHERE name = 'catalogue_version'
		`); err != nil {
			return fmt.Errorf("failed to bump catalogue version: %w", err)
		}
		return nil
	})
}

// GetSource loads one source
func (r *Repository) GetSource(ctx context.Context, id string) (*Source, error) {
	stmt, err := r.db.GetPreparedStatement("get_source")
	if err != nil {
		return nil, err
	}

	var s Source
	err = stmt.QueryRowContext(ctx, id).Scan(&s.ID, &s.Name, &s.URL, &s.ParentID, &s.ClaimVersion, &s.CreatedAt)
	if err != nil {
		return nil, notFound("source", id, err)
	}
	return &s, nil
}

// ListNodes returns the flat node listing of the whole catalogue, or of
// rootID and everything below it when rootID is set
func (r *Repository) ListNodes(ctx context.Context, rootID string) ([]SourceNode, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if rootID == "" {
		rows, err = r.db.QueryContext(ctx, `SELECT id, name, COALESCE(parent_id, '') FROM sources`)
	} else {
		// UNION rather than UNION ALL stops at rows already visited, so a
		// parent loop in stored data cannot recurse forever
		rows, err = r.db.QueryContext(ctx, `
			WITH RECURSIVE subtree(id) AS (
				SELECT id FROM sources WHERE id = ?
				UNION
				SELECT s.id FROM sources s JOIN subtree ON s.parent_id = subtree.id
			)
			SELECT s.id, s.name, COALESCE(s.parent_id, '')
			FROM sources s JOIN subtree ON s.id = subtree.id
		`, rootID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	nodes := make([]SourceNode, 0)
	for rows.Next() {
		var n SourceNode
		if err := rows.Scan(&n.ID, &n.Name, &n.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	if rootID != "" && len(nodes) == 0 {
		return nil, fmt.Errorf("source %s: %w", rootID, apperrors.ErrNotFound)
	}
	return nodes, nil
}

// CatalogueVersion changes whenever a source is added
func (r *Repository) CatalogueVersion(ctx context.Context) (int64, error) {
	stmt, err := r.db.GetPreparedStatement("catalogue_version")
	if err != nil {
		return 0, err
	}

	var v int64
	if err := stmt.QueryRowContext(ctx).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read catalogue version: %w", err)
	}
	return v, nil
}

// ClaimVersion changes whenever a claim or vote on the source changes
func (r *Repository) ClaimVersion(ctx context.Context, sourceID string) (int64, error) {
	stmt, err := r.db.GetPreparedStatement("claim_version")
	if err != nil {
		return 0, err
	}

	var v int64
	if err := stmt.QueryRowContext(ctx, sourceID).Scan(&v); err != nil {
		return 0, notFound("source", sourceID, err)
	}
	return v, nil
}

func bumpClaimVersion(ctx context.Context, tx *sql.Tx, sourceID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sources SET claim_version = claim_version + 1 WHERE id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to bump claim version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s: %w", sourceID, apperrors.ErrNotFound)
	}
	return nil
}

// CreateClaim inserts a claim and bumps its source's claim version
func (r *Repository) CreateClaim(ctx context.Context, c *Claim) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := bumpClaimVersion(ctx, tx, c.SourceID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO claims (id, source_id, author, impact, confidence, evidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.SourceID, c.Author, c.Impact, c.Confidence, c.Evidence, c.CreatedAt); err != nil {
			return fmt.Errorf("failed to create claim: %w", err)
		}
		return nil
	})
}

// GetClaim loads one claim without aggregates
func (r *Repository) GetClaim(ctx context.Context, id string) (*Claim, error) {
	stmt, err := r.db.GetPreparedStatement("get_claim")
	if err != nil {
		return nil, err
	}

	var c Claim
	err = stmt.QueryRowContext(ctx, id).Scan(&c.ID, &c.SourceID, &c.Author, &c.Impact, &c.Confidence, &c.Evidence, &c.CreatedAt)
	if err != nil {
		return nil, notFound("claim", id, err)
	}
	return &c, nil
}

// ListClaims returns a source's claims, newest first, with vote, comment and
// flag counts
func (r *Repository) ListClaims(ctx context.Context, sourceID string) ([]Claim, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.source_id, c.author, c.impact, c.confidence, c.evidence, c.created_at,
			(SELECT COUNT(*) FROM votes v WHERE v.claim_id = c.id AND v.helpful),
			(SELECT COUNT(*) FROM votes v WHERE v.claim_id = c.id AND NOT v.helpful),
			(SELECT COUNT(*) FROM comments m WHERE m.claim_id = c.id),
			(SELECT COUNT(*) FROM flags f WHERE f.claim_id = c.id)
		FROM claims c
		WHERE c.source_id = ?
		ORDER BY c.created_at DESC, c.id
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	claims := make([]Claim, 0)
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Author, &c.Impact, &c.Confidence, &c.Evidence, &c.CreatedAt,
			&c.HelpfulVotes, &c.UnhelpfulVotes, &c.CommentCount, &c.FlagCount); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return claims, nil
}

// ScoringInputs reads the claim snapshot for a source together with the claim
// version it corresponds to
func (r *Repository) ScoringInputs(ctx context.Context, sourceID string) ([]ScoringInput, int64, error) {
	versionStmt, err := r.db.GetPreparedStatement("claim_version")
	if err != nil {
		return nil, 0, err
	}
	inputStmt, err := r.db.GetPreparedStatement("scoring_inputs")
	if err != nil {
		return nil, 0, err
	}

	var (
		inputs  []ScoringInput
		version int64
	)
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.StmtContext(ctx, versionStmt).QueryRowContext(ctx, sourceID).Scan(&version); err != nil {
			return notFound("source", sourceID, err)
		}

		rows, err := tx.StmtContext(ctx, inputStmt).QueryContext(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("failed to read claims: %w", err)
		}
		defer rows.Close()

		inputs = make([]ScoringInput, 0)
		for rows.Next() {
			var in ScoringInput
			if err := rows.Scan(&in.Impact, &in.Confidence, &in.HelpfulVotes); err != nil {
				return fmt.Errorf("failed to scan claim: %w", err)
			}
			inputs = append(inputs, in)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return inputs, version, nil
}

// ListSources returns every source ordered by creation time
func (r *Repository) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, url, COALESCE(parent_id, ''), claim_version, created_at
		FROM sources ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := make([]Source, 0)
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.ParentID, &s.ClaimVersion, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// AllScoringInputs returns the claim snapshot of every source that has claims
func (r *Repository) AllScoringInputs(ctx context.Context) (map[string][]ScoringInput, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.source_id, c.impact, c.confidence,
			COALESCE(SUM(CASE WHEN v.helpful THEN 1 ELSE 0 END), 0)
		FROM claims c
		LEFT JOIN votes v ON v.claim_id = c.id
		GROUP BY c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read claims: %w", err)
	}
	defer rows.Close()

	inputs := make(map[string][]ScoringInput)
	for rows.Next() {
		var (
			sourceID string
			in       ScoringInput
		)
		if err := rows.Scan(&sourceID, &in.Impact, &in.Confidence, &in.HelpfulVotes); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		inputs[sourceID] = append(inputs[sourceID], in)
	}
	return inputs, rows.Err()
}

// RankingVersion grows with every source, claim and vote mutation
func (r *Repository) RankingVersion(ctx context.Context) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(claim_version), 0) + COUNT(*) FROM sources`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read ranking version: %w", err)
	}
	return v, nil
}

// UpsertVote records or replaces a voter's vote on a claim and bumps the
// claim's source version
func (r *Repository) UpsertVote(ctx context.Context, v *Vote) error {
	claim, err := r.GetClaim(ctx, v.ClaimID)
	if err != nil {
		return err
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO votes (claim_id, voter, helpful, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(claim_id, voter) DO UPDATE SET
				helpful = excluded.helpful,
				created_at = excluded.created_at
		`, v.ClaimID, v.Voter, v.Helpful, v.CreatedAt); err != nil {
			return fmt.Errorf("failed to record vote: %w", err)
		}
		return bumpClaimVersion(ctx, tx, claim.SourceID)
	})
}

// AddComment stores a comment on a claim
func (r *Repository) AddComment(ctx context.Context, c *Comment) error {
	if _, err := r.GetClaim(ctx, c.ClaimID); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO comments (id, claim_id, author, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.ClaimID, c.Author, c.Body, c.CreatedAt); err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

// ListComments returns a claim's comments, oldest first
func (r *Repository) ListComments(ctx context.Context, claimID string) ([]Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, claim_id, author, body, created_at
		FROM comments WHERE claim_id = ?
		ORDER BY created_at, id
	`, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.ClaimID, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// AddFlag stores a moderation flag on a claim
func (r *Repository) AddFlag(ctx context.Context, f *Flag) error {
	if _, err := r.GetClaim(ctx, f.ClaimID); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO flags (id, claim_id, reporter, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, f.ID, f.ClaimID, f.Reporter, f.Reason, f.CreatedAt); err != nil {
		return fmt.Errorf("failed to add flag: %w", err)
	}
	return nil
}

// Counts returns row counts per table
func (r *Repository) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, table := range []string{"sources", "claims", "votes", "comments", "flags"} {
		var n int64
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// Ping checks the connection is usable
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
