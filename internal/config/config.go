package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/ZanzyTHEbar/slop-o-meter/internal/ratelimit"
)

// Config holds the full server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Privacy   PrivacyConfig   `mapstructure:"privacy"`
	Locale    string          `mapstructure:"locale"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Gzip            bool          `mapstructure:"gzip"`
}

// StoreConfig configures the sqlite data directory.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// CacheConfig configures the score and tree cache.
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// SecurityConfig configures the request guards.
type SecurityConfig struct {
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	TrustedProxies    []string      `mapstructure:"trusted_proxies"`
	MaxRequestsPerMin int           `mapstructure:"max_requests_per_min"`
	MaxTextLength     int           `mapstructure:"max_text_length"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	EnableHSTS        bool          `mapstructure:"enable_hsts"`
}

// RateLimitConfig configures the per-action limiter. Presets maps an action
// name to an override of its default rate.
type RateLimitConfig struct {
	CleanupInterval time.Duration           `mapstructure:"cleanup_interval"`
	StaleAfter      time.Duration           `mapstructure:"stale_after"`
	Presets         map[string]PresetConfig `mapstructure:"presets"`
}

// PresetConfig is one action's limit per window.
type PresetConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// AdminConfig gates the limiter administration routes.
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PrivacyConfig keys the pseudonyms stored in place of client IPs.
type PrivacyConfig struct {
	Salt string `mapstructure:"salt"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.gzip", true)
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("cache.ttl", 15*time.Minute)
	v.SetDefault("cache.cleanup_interval", 5*time.Minute)
	v.SetDefault("security.allowed_origins", []string{})
	v.SetDefault("security.trusted_proxies", []string{})
	v.SetDefault("security.max_requests_per_min", 120)
	v.SetDefault("security.max_text_length", 2000)
	v.SetDefault("security.request_timeout", 30*time.Second)
	v.SetDefault("security.enable_hsts", false)
	v.SetDefault("ratelimit.cleanup_interval", time.Minute)
	v.SetDefault("ratelimit.stale_after", 2*time.Hour)
	v.SetDefault("admin.enabled", false)
	v.SetDefault("privacy.salt", "")
	v.SetDefault("locale", "en")
}

// Load reads configuration from the optional file at path (or config.yaml in
// the working directory when path is empty) and from SLOP_* environment
// variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SLOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if _, err := language.Parse(c.Locale); err != nil {
		return fmt.Errorf("config: invalid locale %q: %w", c.Locale, err)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive")
	}
	if c.RateLimit.CleanupInterval < 0 || c.RateLimit.StaleAfter <= 0 {
		return fmt.Errorf("config: invalid ratelimit sweep settings")
	}

	known := ratelimit.DefaultPresets()
	for name, p := range c.RateLimit.Presets {
		if _, ok := known[ratelimit.Action(name)]; !ok {
			return fmt.Errorf("config: %w: %s", ratelimit.ErrUnknownAction, name)
		}
		if p.Limit <= 0 || p.Window <= 0 {
			return fmt.Errorf("config: %w: %s", ratelimit.ErrInvalidRate, name)
		}
	}
	return nil
}

// LimiterConfig merges preset overrides into the default limiter settings.
func (c *Config) LimiterConfig() ratelimit.Config {
	lc := ratelimit.DefaultConfig()
	lc.CleanupInterval = c.RateLimit.CleanupInterval
	lc.StaleAfter = c.RateLimit.StaleAfter

	for name, p := range c.RateLimit.Presets {
		lc.Presets[ratelimit.Action(name)] = ratelimit.Rate{Limit: p.Limit, Window: p.Window}
	}
	return lc
}

// Language returns the collation language for source names
func (c *Config) Language() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.English
	}
	return tag
}
