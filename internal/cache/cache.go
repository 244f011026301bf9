package cache

import (
	"log/slog"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/monitoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/scoring"
	"github.com/ZanzyTHEbar/slop-o-meter/internal/tree"
)

// Cache holds computed scores and trees. Keys embed the version of the data
// they were computed from, so a write never has to find and evict old entries;
// stale versions simply stop being asked for and expire.
type Cache struct {
	items   *gocache.Cache
	ttl     time.Duration
	metrics *monitoring.Metrics
}

// NewCache creates a cache whose entries live for ttl
func NewCache(ttl, cleanupInterval time.Duration, metrics *monitoring.Metrics) *Cache {
	return &Cache{
		items:   gocache.New(ttl, cleanupInterval),
		ttl:     ttl,
		metrics: metrics,
	}
}

func scoreKey(sourceID string, version int64) string {
	return "score:" + sourceID + ":v" + strconv.FormatInt(version, 10)
}

func treeKey(rootID string, version int64) string {
	return "tree:" + rootID + ":v" + strconv.FormatInt(version, 10)
}

// GetScore returns the score computed for sourceID at claim version
func (c *Cache) GetScore(sourceID string, version int64) (scoring.SourceScore, bool) {
	if v, found := c.items.Get(scoreKey(sourceID, version)); found {
		c.hit()
		return v.(scoring.SourceScore), true
	}
	c.miss()
	return scoring.SourceScore{}, false
}

// SetScore stores the score computed for sourceID at claim version
func (c *Cache) SetScore(sourceID string, version int64, score scoring.SourceScore) {
	c.items.SetDefault(scoreKey(sourceID, version), score)
}

// GetTree returns the forest built under rootID ("" for the whole catalogue)
// at catalogue version. Callers must not mutate the result.
func (c *Cache) GetTree(rootID string, version int64) ([]*tree.TreeNode, bool) {
	if v, found := c.items.Get(treeKey(rootID, version)); found {
		c.hit()
		return v.([]*tree.TreeNode), true
	}
	c.miss()
	return nil, false
}

// SetTree stores a built forest
func (c *Cache) SetTree(rootID string, version int64, roots []*tree.TreeNode) {
	c.items.SetDefault(treeKey(rootID, version), roots)
}

// Get returns a value stored under an arbitrary key
func (c *Cache) Get(key string) (interface{}, bool) {
	v, found := c.items.Get(key)
	if found {
		c.hit()
	} else {
		c.miss()
	}
	return v, found
}

// Set stores a value under an arbitrary key with the default ttl
func (c *Cache) Set(key string, value interface{}) {
	c.items.SetDefault(key, value)
}

// Clear removes everything
func (c *Cache) Clear() {
	n := c.items.ItemCount()
	c.items.Flush()
	slog.Info("Cache cleared", "items", n)
}

// Size returns the number of items, including expired ones not yet swept
func (c *Cache) Size() int {
	return c.items.ItemCount()
}

// Stats returns cache statistics
func (c *Cache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_items": c.items.ItemCount(),
		"ttl_seconds": c.ttl.Seconds(),
	}
}

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.IncrementCacheHit()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.IncrementCacheMiss()
	}
}
