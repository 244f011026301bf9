package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/config"
	apperrors "github.com/ZanzyTHEbar/slop-o-meter/internal/errors"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/monitoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Server.Mode = gin.TestMode
	cfg.Store.DataDir = filepath.Join(dir, "data")
	cfg.Security.MaxRequestsPerMin = 60000
	cfg.Admin.Enabled = true
	cfg.Privacy.Salt = "test-salt"

	// Generous windows so fixtures can create freely; rate limit tests override
	cfg.RateLimit.Presets = map[string]config.PresetConfig{}
	for _, action := range []string{"claim", "vote", "source", "comment", "flag"} {
		cfg.RateLimit.Presets[action] = config.PresetConfig{Limit: 1000, Window: time.Hour}
	}
	return cfg
}

func setupTestApp(t *testing.T, mutate ...func(*config.Config)) (*app, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, types.RegisterValidators())

	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}

	logger := monitoring.NewLoggerWithWriter(io.Discard, slog.LevelError)
	a, err := newApp(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return a, a.router()
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createSource(t *testing.T, r http.Handler, name, parentID string) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/sources", gin.H{"name": name, "parent_id": parentID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["id"].(string)
}

func submitClaim(t *testing.T, r http.Handler, sourceID string, impact, confidence int) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/sources/"+sourceID+"/claims", gin.H{"impact": impact, "confidence": confidence})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	_, r := setupTestApp(t)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET /health returns healthy", http.MethodGet, http.StatusOK},
		{"POST /health is not routed", http.MethodPost, http.StatusNotFound},
		{"DELETE /health is not routed", http.MethodDelete, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, tt.method, "/health", nil)
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				body := decode(t, w)
				assert.Equal(t, "healthy", body["status"])
				assert.Equal(t, "ok", body["database"])
				assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			}
		})
	}
}

func TestScoreLifecycle(t *testing.T) {
	_, r := setupTestApp(t)

	srcID := createSource(t, r, "Daily Bugle", "")

	// No claims yet
	w := doJSON(r, http.MethodGet, "/sources/"+srcID+"/score", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(0), body["tier"])
	assert.Equal(t, float64(0), body["claim_count"])

	claimID := submitClaim(t, r, srcID, 5, 5)

	w = doJSON(r, http.MethodGet, "/sources/"+srcID+"/score", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	body = decode(t, w)
	assert.Equal(t, float64(2), body["tier"])
	assert.InDelta(t, 25.0, body["normalized_score"], 1e-9)
	assert.Equal(t, float64(50), body["max_claim_weight"])

	w = doJSON(r, http.MethodGet, "/sources/"+srcID+"/score", nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, true, decode(t, w)["cached"])

	// A helpful vote bumps the version and lifts the weight by 1+ln(2)
	w = doJSON(r, http.MethodPost, "/claims/"+claimID+"/votes", gin.H{"helpful": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodGet, "/sources/"+srcID+"/score", nil)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	body = decode(t, w)
	assert.Equal(t, float64(3), body["tier"])
	assert.InDelta(t, 42.33, body["normalized_score"], 0.01)
}

func TestVoteIsReplacedNotDuplicated(t *testing.T) {
	_, r := setupTestApp(t)

	srcID := createSource(t, r, "Planet Express", "")
	claimID := submitClaim(t, r, srcID, 3, 3)

	for _, helpful := range []bool{true, true, false} {
		w := doJSON(r, http.MethodPost, "/claims/"+claimID+"/votes", gin.H{"helpful": helpful})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, decode(t, w)["voter"], "anon:")
	}

	w := doJSON(r, http.MethodGet, "/sources/"+srcID+"/claims", nil)
	require.Equal(t, http.StatusOK, w.Code)
	claims := decode(t, w)["claims"].([]interface{})
	require.Len(t, claims, 1)

	claim := claims[0].(map[string]interface{})
	assert.Equal(t, float64(0), claim["helpful_votes"])
	assert.Equal(t, float64(1), claim["unhelpful_votes"])
}

func TestTreeEndpoint(t *testing.T) {
	_, r := setupTestApp(t)

	root := createSource(t, r, "Network", "")
	createSource(t, r, "zeta", root)
	beta := createSource(t, r, "Beta", root)
	createSource(t, r, "alpha", beta)
	createSource(t, r, "Standalone", "")

	w := doJSON(r, http.MethodGet, "/sources/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.TreeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Count)
	require.Len(t, resp.Roots, 2)
	assert.Equal(t, "Network", resp.Roots[0].Name)
	assert.Equal(t, "Standalone", resp.Roots[1].Name)

	children := resp.Roots[0].Children
	require.Len(t, children, 2)
	assert.Equal(t, "Beta", children[0].Name)
	assert.Equal(t, "zeta", children[1].Name)

	w = doJSON(r, http.MethodGet, "/sources/tree?root="+beta, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Roots, 1)
	assert.Equal(t, beta, resp.Roots[0].ID)

	w = doJSON(r, http.MethodGet, "/sources/tree?root=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidationErrors(t *testing.T) {
	_, r := setupTestApp(t)
	srcID := createSource(t, r, "The Onion", "")
	claimID := submitClaim(t, r, srcID, 1, 1)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"missing name", http.MethodPost, "/sources", gin.H{}, http.StatusBadRequest},
		{"bad url", http.MethodPost, "/sources", gin.H{"name": "x", "url": "not a url"}, http.StatusBadRequest},
		{"unknown parent", http.MethodPost, "/sources", gin.H{"name": "x", "parent_id": "nope"}, http.StatusBadRequest},
		{"impact out of range", http.MethodPost, "/sources/" + srcID + "/claims", gin.H{"impact": 6, "confidence": 1}, http.StatusBadRequest},
		{"claim on missing source", http.MethodPost, "/sources/nope/claims", gin.H{"impact": 1, "confidence": 1}, http.StatusNotFound},
		{"vote without helpful", http.MethodPost, "/claims/" + claimID + "/votes", gin.H{}, http.StatusBadRequest},
		{"vote on missing claim", http.MethodPost, "/claims/nope/votes", gin.H{"helpful": true}, http.StatusNotFound},
		{"bad flag reason", http.MethodPost, "/claims/" + claimID + "/flags", gin.H{"reason": "boring"}, http.StatusBadRequest},
		{"script in comment", http.MethodPost, "/claims/" + claimID + "/comments", gin.H{"body": "javascript:alert(1)"}, http.StatusBadRequest},
		{"missing source", http.MethodGet, "/sources/nope", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			body := decode(t, w)
			assert.NotEmpty(t, body["error"])
			if tt.status == http.StatusBadRequest {
				assert.Equal(t, string(apperrors.CategoryValidation), body["category"])
			}
		})
	}
}

func TestContentTypeIsEnforced(t *testing.T) {
	_, r := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/sources", bytes.NewBufferString(`name=x`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestCommentsAndFlags(t *testing.T) {
	_, r := setupTestApp(t)
	srcID := createSource(t, r, "Weekly World News", "")
	claimID := submitClaim(t, r, srcID, 4, 2)

	w := doJSON(r, http.MethodPost, "/claims/"+claimID+"/comments", gin.H{"body": "  same   phrasing as <b>three</b> other sites ", "author": "kim"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	comment := decode(t, w)
	assert.Equal(t, "same phrasing as three other sites", comment["body"])
	assert.Equal(t, "kim", comment["author"])

	w = doJSON(r, http.MethodGet, "/claims/"+claimID+"/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = doJSON(r, http.MethodPost, "/claims/"+claimID+"/flags", gin.H{"reason": "duplicate"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Neither comments nor flags change the score version
	doJSON(r, http.MethodGet, "/sources/"+srcID+"/score", nil)
	w = doJSON(r, http.MethodGet, "/sources/"+srcID+"/score", nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	w = doJSON(r, http.MethodGet, "/claims/nope/comments", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthorCannotImpersonateIdentity(t *testing.T) {
	_, r := setupTestApp(t)
	srcID := createSource(t, r, "Impostor Gazette", "")
	claimID := submitClaim(t, r, srcID, 2, 2)

	for _, author := range []string{"user:42", "anon:0123456789abcdef", "<b>ANON:</b>feed"} {
		t.Run(author, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/claims/"+claimID+"/comments", gin.H{"body": "hello", "author": author})
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			w = doJSON(r, http.MethodPost, "/sources/"+srcID+"/claims", gin.H{"impact": 1, "confidence": 1, "author": author})
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	w := doJSON(r, http.MethodGet, "/claims/"+claimID+"/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])
}

func TestActionRateLimit(t *testing.T) {
	_, r := setupTestApp(t, func(c *config.Config) {
		c.RateLimit.Presets["claim"] = config.PresetConfig{Limit: 2, Window: time.Hour}
		c.RateLimit.Presets["source"] = config.PresetConfig{Limit: 3, Window: time.Hour}
	})
	srcID := createSource(t, r, "Clickbait Central", "")

	for i := 0; i < 2; i++ {
		w := doJSON(r, http.MethodPost, "/sources/"+srcID+"/claims", gin.H{"impact": 2, "confidence": 2})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(1-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := doJSON(r, http.MethodPost, "/sources/"+srcID+"/claims", gin.H{"impact": 2, "confidence": 2})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.True(t, retryAfter > 3500 && retryAfter <= 3600, "retry after %d", retryAfter)
	assert.Equal(t, string(apperrors.CategoryRateLimit), decode(t, w)["category"])

	// Other actions have their own windows
	w = doJSON(r, http.MethodPost, "/sources", gin.H{"name": "Another"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/ratelimit/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	limits := decode(t, w)["limits"].(map[string]interface{})
	assert.Equal(t, float64(0), limits["claim"].(map[string]interface{})["remaining"])
	assert.Equal(t, float64(1), limits["source"].(map[string]interface{})["remaining"])

	// Admin reset frees the claim window for this caller
	w = doJSON(r, http.MethodDelete, "/admin/ratelimits/claim", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["removed"])

	w = doJSON(r, http.MethodPost, "/sources/"+srcID+"/claims", gin.H{"impact": 2, "confidence": 2})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAdminRoutesDisabled(t *testing.T) {
	_, r := setupTestApp(t, func(c *config.Config) { c.Admin.Enabled = false })

	w := doJSON(r, http.MethodGet, "/admin/ratelimits", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodDelete, "/admin/ratelimits/claim", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminSweepAndUnknownAction(t *testing.T) {
	_, r := setupTestApp(t)

	w := doJSON(r, http.MethodPost, "/admin/ratelimits/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["removed"])

	w = doJSON(r, http.MethodDelete, "/admin/ratelimits/upload", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLeaderboardEndpoint(t *testing.T) {
	_, r := setupTestApp(t)

	mild := createSource(t, r, "Mild", "")
	heavy := createSource(t, r, "Heavy", "")
	createSource(t, r, "Unclaimed", "")

	submitClaim(t, r, mild, 1, 2)
	submitClaim(t, r, heavy, 5, 4)

	w := doJSON(r, http.MethodGet, "/leaderboard?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["total"])

	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, heavy, first["source_id"])
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, "Mild", entries[1].(map[string]interface{})["name"])
}

func TestInfoEndpoints(t *testing.T) {
	_, r := setupTestApp(t)

	w := doJSON(r, http.MethodGet, "/tiers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["tiers"], 5)
	assert.Equal(t, float64(50), body["max_claim_weight"])

	w = doJSON(r, http.MethodGet, "/privacy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["ip_addresses_stored"])

	createSource(t, r, "Counted", "")
	w = doJSON(r, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	counts := decode(t, w)["counts"].(map[string]interface{})
	assert.Equal(t, float64(1), counts["sources"])

	w = doJSON(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "slopmeter_http_requests_total")
}

func TestGzipResponses(t *testing.T) {
	_, r := setupTestApp(t)

	parent := createSource(t, r, "Big Network", "")
	for i := 0; i < 40; i++ {
		createSource(t, r, "Outlet "+strconv.Itoa(i), parent)
	}

	req := httptest.NewRequest(http.MethodGet, "/sources/tree", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}
