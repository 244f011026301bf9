package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/monitoring"
)

var (
	ErrInvalidRate   = errors.New("rate limit and window must be positive")
	ErrUnknownAction = errors.New("unknown rate limit action")
)

// Action names a rate limited mutation
type Action string

const (
	ActionClaim   Action = "claim"
	ActionVote    Action = "vote"
	ActionSource  Action = "source"
	ActionComment Action = "comment"
	ActionFlag    Action = "flag"
)

// Rate is the number of requests admitted per fixed window
type Rate struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// DefaultPresets returns the per-action limits applied to mutations
func DefaultPresets() map[Action]Rate {
	return map[Action]Rate{
		ActionClaim:   {Limit: 5, Window: time.Hour},
		ActionVote:    {Limit: 50, Window: time.Hour},
		ActionSource:  {Limit: 3, Window: time.Hour},
		ActionComment: {Limit: 10, Window: time.Hour},
		ActionFlag:    {Limit: 20, Window: time.Hour},
	}
}

// Config holds rate limiter configuration
type Config struct {
	// CleanupInterval is how often the background sweep runs. Zero disables it.
	CleanupInterval time.Duration
	// StaleAfter is how long after its window started an expired entry is kept.
	StaleAfter time.Duration
	Presets    map[Action]Rate
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		CleanupInterval: time.Minute,
		StaleAfter:      2 * time.Hour,
		Presets:         DefaultPresets(),
	}
}

// Result represents the result of a rate limit check. RetryAfter is in whole
// seconds and only set on rejection.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	RetryAfter int       `json:"retry_after"`
	ResetAt    time.Time `json:"reset_at"`
}

type entry struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

// Option configures a RateLimiter
type Option func(*RateLimiter)

// WithLogger routes rejection logs through logger
func WithLogger(logger *monitoring.Logger) Option {
	return func(rl *RateLimiter) {
		rl.logger = logger
	}
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// RateLimiter is an in-process fixed window limiter. All state sits behind one
// mutex, shared by request checks and the sweep.
type RateLimiter struct {
	config  Config
	metrics *monitoring.Metrics
	logger  *monitoring.Logger
	now     func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	evictions int64
	sweeps    int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRateLimiter creates a limiter and starts its background sweep
func NewRateLimiter(config Config, metrics *monitoring.Metrics, opts ...Option) *RateLimiter {
	if config.Presets == nil {
		config.Presets = DefaultPresets()
	}

	rl := &RateLimiter{
		config:  config,
		metrics: metrics,
		now:     time.Now,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	if config.CleanupInterval > 0 {
		rl.wg.Add(1)
		go rl.sweepLoop(config.CleanupInterval)
	}

	return rl
}

// Preset returns the configured rate for an action
func (rl *RateLimiter) Preset(action Action) (Rate, bool) {
	r, ok := rl.config.Presets[action]
	return r, ok
}

// Key builds the limiter key for an action performed by an identity
func Key(action Action, identity string) string {
	return string(action) + ":" + identity
}

// AllowAction checks identity against the preset configured for action
func (rl *RateLimiter) AllowAction(ctx context.Context, action Action, identity string) (*Result, error) {
	r, ok := rl.Preset(action)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return rl.Allow(ctx, Key(action, identity), r)
}

// Allow counts one request against key. A key whose window has elapsed starts
// over with a fresh window. Rejection is reported through Result, not error;
// the only error is an invalid rate. ctx is not consulted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, r Rate) (*Result, error) {
	if r.Limit <= 0 || r.Window <= 0 {
		return nil, ErrInvalidRate
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.Window {
		rl.entries[key] = &entry{count: 1, windowStart: now, window: r.Window}
		return &Result{
			Allowed:   true,
			Limit:     r.Limit,
			Remaining: r.Limit - 1,
			ResetAt:   now.Add(r.Window),
		}, nil
	}

	resetAt := e.windowStart.Add(r.Window)
	if e.count >= r.Limit {
		return &Result{
			Allowed:    false,
			Limit:      r.Limit,
			Remaining:  0,
			RetryAfter: retryAfterSeconds(resetAt.Sub(now)),
			ResetAt:    resetAt,
		}, nil
	}

	e.count++
	e.window = r.Window
	return &Result{
		Allowed:   true,
		Limit:     r.Limit,
		Remaining: r.Limit - e.count,
		ResetAt:   resetAt,
	}, nil
}

// Peek reports what Allow would return for key without counting a request
func (rl *RateLimiter) Peek(key string, r Rate) Result {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.Window {
		return Result{Allowed: true, Limit: r.Limit, Remaining: r.Limit, ResetAt: now.Add(r.Window)}
	}

	resetAt := e.windowStart.Add(r.Window)
	if e.count >= r.Limit {
		return Result{Limit: r.Limit, RetryAfter: retryAfterSeconds(resetAt.Sub(now)), ResetAt: resetAt}
	}
	return Result{Allowed: true, Limit: r.Limit, Remaining: r.Limit - e.count, ResetAt: resetAt}
}

func retryAfterSeconds(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Sweep removes entries whose window has expired and started more than
// StaleAfter ago. It returns the number of entries removed.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	now := rl.now()
	removed := 0
	for key, e := range rl.entries {
		age := now.Sub(e.windowStart)
		if age > rl.config.StaleAfter && age >= e.window {
			delete(rl.entries, key)
			removed++
		}
	}
	rl.evictions += int64(removed)
	rl.sweeps++
	remaining := len(rl.entries)
	rl.mu.Unlock()

	if rl.metrics != nil {
		rl.metrics.RecordRateLimitEvictions(removed)
	}
	if removed > 0 {
		slog.Debug("Swept stale rate limit windows", "removed", removed, "remaining", remaining)
	}
	return removed
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-rl.done:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
	})
	rl.wg.Wait()
}

// Reset drops the window for one key
func (rl *RateLimiter) Reset(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	_, ok := rl.entries[key]
	delete(rl.entries, key)
	return ok
}

// ResetPrefix drops every window whose key starts with prefix. An empty
// prefix clears the limiter.
func (rl *RateLimiter) ResetPrefix(prefix string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key := range rl.entries {
		if strings.HasPrefix(key, prefix) {
			delete(rl.entries, key)
			removed++
		}
	}

	slog.Info("Invalidated rate limit windows", "prefix", prefix, "count", removed)
	return removed
}

// KeyCount returns the number of tracked windows
func (rl *RateLimiter) KeyCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Stats returns rate limiter statistics
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	byAction := make(map[string]int)
	for key := range rl.entries {
		action := key
		if i := strings.IndexByte(key, ':'); i >= 0 {
			action = key[:i]
		}
		byAction[action]++
	}
	stats := map[string]interface{}{
		"keys":           len(rl.entries),
		"keys_by_action": byAction,
		"evictions":      rl.evictions,
		"sweeps":         rl.sweeps,
	}
	rl.mu.Unlock()

	presets := make([]map[string]interface{}, 0, len(rl.config.Presets))
	for action, r := range rl.config.Presets {
		presets = append(presets, map[string]interface{}{
			"action":         string(action),
			"limit":          r.Limit,
			"window_seconds": int(r.Window.Seconds()),
		})
	}
	sort.Slice(presets, func(i, j int) bool {
		return presets[i]["action"].(string) < presets[j]["action"].(string)
	})
	stats["presets"] = presets
	stats["cleanup_interval_seconds"] = rl.config.CleanupInterval.Seconds()
	stats["stale_after_seconds"] = rl.config.StaleAfter.Seconds()

	return stats
}
