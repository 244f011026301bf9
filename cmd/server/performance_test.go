package main

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentVotes_ThreadSafety(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping thread safety test in short mode")
	}

	_, r := setupTestApp(t)
	srcID := createSource(t, r, "Busy Outlet", "")
	claimID := submitClaim(t, r, srcID, 4, 4)

	const numGoroutines = 20
	const requestsPerGoroutine = 5

	results := make(chan int, numGoroutines*requestsPerGoroutine)
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < requestsPerGoroutine; j++ {
				if j%2 == 0 {
					results <- doJSON(r, http.MethodPost, "/claims/"+claimID+"/votes", gin.H{"helpful": i%2 == 0}).Code
				} else {
					results <- doJSON(r, http.MethodGet, "/sources/"+srcID+"/score", nil).Code
				}
			}
		}(i)
	}
	wg.Wait()
	close(results)

	var errorCount int
	for code := range results {
		if code != http.StatusOK {
			errorCount++
		}
	}

	t.Logf("Thread safety test completed:")
	t.Logf("  Total requests: %d", numGoroutines*requestsPerGoroutine)
	t.Logf("  Errors: %d", errorCount)
	assert.Equal(t, 0, errorCount, "No errors should occur in concurrent requests")

	// Every request shares one client IP, so all of it collapses to one vote
	w := doJSON(r, http.MethodGet, "/sources/"+srcID+"/claims", nil)
	require.Equal(t, http.StatusOK, w.Code)
	claim := decode(t, w)["claims"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(1), claim["helpful_votes"].(float64)+claim["unhelpful_votes"].(float64))
}

func TestScoreEndpoint_ResponseTimeDistribution(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping response time distribution test in short mode")
	}

	_, r := setupTestApp(t)

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = createSource(t, r, fmt.Sprintf("Outlet %02d", i), "")
		for j := 0; j < 5; j++ {
			submitClaim(t, r, ids[i], 1+j%5, 1+i%5)
		}
	}

	const numRequests = 100
	durations := make([]time.Duration, numRequests)

	for i := 0; i < numRequests; i++ {
		start := time.Now()
		w := doJSON(r, http.MethodGet, "/sources/"+ids[i%len(ids)]+"/score", nil)
		durations[i] = time.Since(start)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	percentiles := calculatePercentiles(durations, 0.5, 0.95, 0.99)
	p50, p95, p99 := percentiles[0], percentiles[1], percentiles[2]

	t.Logf("Response time distribution:")
	t.Logf("  Requests: %d", numRequests)
	t.Logf("  P50: %v", p50)
	t.Logf("  P95: %v", p95)
	t.Logf("  P99: %v", p99)

	assert.True(t, p95 < time.Second, "95th percentile should be under 1 second")
	assert.True(t, p99 < 2*time.Second, "99th percentile should be under 2 seconds")
}

func calculatePercentiles(durations []time.Duration, percentiles ...float64) []time.Duration {
	if len(percentiles) == 0 || len(durations) == 0 {
		return make([]time.Duration, len(percentiles))
	}

	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	results := make([]time.Duration, len(percentiles))
	for i, p := range percentiles {
		index := int(float64(len(sorted)-1) * p)
		if index >= len(sorted) {
			index = len(sorted) - 1
		}
		results[i] = sorted[index]
	}
	return results
}
