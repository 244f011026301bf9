package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/slop-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/privacy"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/ratelimit"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/scoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/types"
)

// bindError turns a ShouldBindJSON failure into a validation error
func bindError(err error) error {
	if fields, ok := types.ValidationMessages(err); ok {
		return apperrors.NewValidationErrorWithMap(fields)
	}
	return apperrors.NewValidationError("Invalid request body", err)
}

// identity is the caller as stored next to their content
func (a *app) identity(c *gin.Context) string {
	return a.privacy.StoredIdentity(ratelimit.Identity(c))
}

// author prefers a display name from the body over the caller identity
func (a *app) author(c *gin.Context, requested string) (string, error) {
	if requested == "" {
		return a.identity(c), nil
	}
	name, err := a.security.CleanText("author", requested, 64)
	if err != nil {
		return "", err
	}
	if privacy.IsReserved(name) {
		return "", apperrors.NewValidationErrorWithMap(map[string]string{"author": "uses a reserved prefix"})
	}
	return name, nil
}

func (a *app) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	database := "ok"

	if err := a.repo.Ping(c.Request.Context()); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		database = err.Error()
	}

	c.JSON(code, gin.H{
		"status":         status,
		"database":       database,
		"version":        version,
		"uptime_seconds": int(time.Since(a.startedAt).Seconds()),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func (a *app) handleStats(c *gin.Context) {
	counts, err := a.repo.Counts(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"counts":       counts,
		"metrics":      a.metrics.GetStats(),
		"cache":        a.cache.Stats(),
		"rate_limiter": a.limiter.Stats(),
		"compression":  a.compression.GetStats(),
		"database":     a.db.GetPoolStats(),
		"tracked_ips":  a.security.TrackedIPs(),
	})
}

func (a *app) handleTiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tiers":            scoring.Tiers(),
		"max_claim_weight": scoring.MaxClaimWeight(),
	})
}

func (a *app) handlePrivacy(c *gin.Context) {
	c.JSON(http.StatusOK, a.privacy.GetDataRetentionInfo())
}

func (a *app) handleLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	minClaims, _ := strconv.Atoi(c.Query("min_claims"))

	resp, err := a.leaderboard.Sloppiest(c.Request.Context(), limit, minClaims)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *app) handleCreateSource(c *gin.Context) {
	var req types.CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	name, err := a.security.CleanText("name", req.Name, 200)
	if err != nil {
		_ = c.Error(err)
		return
	}

	src, err := a.sources.CreateSource(c.Request.Context(), name, req.URL, req.ParentID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, src)
}

func (a *app) handleGetSource(c *gin.Context) {
	src, err := a.sources.GetSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, src)
}

func (a *app) handleScore(c *gin.Context) {
	id := c.Param("id")

	score, cached, err := a.sources.Score(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if cached {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.JSON(http.StatusOK, types.NewScoreResponse(id, score, cached))
}

func (a *app) handleTree(c *gin.Context) {
	root := c.Query("root")

	roots, err := a.sources.Tree(c.Request.Context(), root)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.NewTreeResponse(root, roots))
}

func (a *app) handleSubmitClaim(c *gin.Context) {
	var req types.SubmitClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	author, err := a.author(c, req.Author)
	if err != nil {
		_ = c.Error(err)
		return
	}

	evidence := ""
	if req.Evidence != "" {
		if evidence, err = a.security.CleanText("evidence", req.Evidence, a.cfg.Security.MaxTextLength); err != nil {
			_ = c.Error(err)
			return
		}
	}

	claim, err := a.sources.SubmitClaim(c.Request.Context(), c.Param("id"), author, req.Impact, req.Confidence, evidence)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, claim)
}

func (a *app) handleListClaims(c *gin.Context) {
	claims, err := a.sources.ListClaims(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": claims, "count": len(claims)})
}

func (a *app) handleVote(c *gin.Context) {
	var req types.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	vote, err := a.sources.Vote(c.Request.Context(), c.Param("id"), a.identity(c), *req.Helpful)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, vote)
}

func (a *app) handleAddComment(c *gin.Context) {
	var req types.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	author, err := a.author(c, req.Author)
	if err != nil {
		_ = c.Error(err)
		return
	}
	body, err := a.security.CleanText("body", req.Body, a.cfg.Security.MaxTextLength)
	if err != nil {
		_ = c.Error(err)
		return
	}

	comment, err := a.sources.AddComment(c.Request.Context(), c.Param("id"), author, body)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (a *app) handleListComments(c *gin.Context) {
	comments, err := a.sources.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments, "count": len(comments)})
}

func (a *app) handleFlag(c *gin.Context) {
	var req types.FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}

	flag, err := a.sources.FlagClaim(c.Request.Context(), c.Param("id"), a.identity(c), req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, flag)
}
