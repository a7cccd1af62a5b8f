// Package config loads cachekit service configuration from YAML with
// environment overrides. The file shape mirrors the option structs of the
// cache packages; conversion helpers hand typed options to each package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quoteflow/cachekit/pkg/cache"
	"github.com/quoteflow/cachekit/pkg/compress"
	"github.com/quoteflow/cachekit/pkg/query"
	"github.com/quoteflow/cachekit/pkg/store"
)

// Config is the complete service configuration.
type Config struct {
	Log         LogConfig                 `yaml:"log"`
	Redis       RedisConfig               `yaml:"redis"`
	Cache       CacheConfig               `yaml:"cache"`
	Compression CompressionConfig         `yaml:"compression"`
	Strategies  map[string]StrategyConfig `yaml:"strategies"`
	Prefetch    []PrefetchRuleConfig      `yaml:"prefetch"`
	Query       QueryConfig               `yaml:"query"`
	Monitor     MonitorConfig             `yaml:"monitor"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// RedisConfig describes the backing store connection.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// CacheConfig tunes the tiered cache manager.
type CacheConfig struct {
	L1MaxEntries      int           `yaml:"l1_max_entries"`
	EdgeMaxEntries    int           `yaml:"edge_max_entries"`
	PrefetchQueueSize int           `yaml:"prefetch_queue_size"`
	PrefetchInterval  time.Duration `yaml:"prefetch_interval"`
	PrefetchBatch     int           `yaml:"prefetch_batch"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MetricsInterval   time.Duration `yaml:"metrics_interval"`
}

// CompressionConfig tunes payload compression.
type CompressionConfig struct {
	Algorithm string `yaml:"algorithm"`
	Threshold int    `yaml:"threshold"`
}

// StrategyConfig is the YAML shape of a named caching strategy.
type StrategyConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	Priority    string        `yaml:"priority"`
	Prefetch    bool          `yaml:"prefetch"`
	EdgeCaching bool          `yaml:"edge_caching"`
	Compression bool          `yaml:"compression"`
	Tags        []string      `yaml:"tags"`
}

// PrefetchRuleConfig is the YAML shape of a prefetch rule.
type PrefetchRuleConfig struct {
	Pattern      string        `yaml:"pattern"`
	Probability  float64       `yaml:"probability"`
	Dependencies []string      `yaml:"dependencies"`
	Cooldown     time.Duration `yaml:"cooldown"`
}

// QueryConfig tunes the query result cache.
type QueryConfig struct {
	MaxEntries      int                 `yaml:"max_entries"`
	DefaultTTL      time.Duration       `yaml:"default_ttl"`
	CleanupInterval time.Duration       `yaml:"cleanup_interval"`
	Dependencies    map[string][]string `yaml:"dependencies"`
}

// MonitorConfig configures the cache-monitor HTTP endpoints.
type MonitorConfig struct {
	Addr string `yaml:"addr"`
}

// NewDefault returns a configuration with production defaults.
func NewDefault() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			DialTimeout:    5 * time.Second,
			CommandTimeout: 2 * time.Second,
		},
		Cache: CacheConfig{
			L1MaxEntries:      1000,
			EdgeMaxEntries:    1000,
			PrefetchQueueSize: 100,
			PrefetchInterval:  time.Second,
			PrefetchBatch:     5,
			CleanupInterval:   5 * time.Minute,
			MetricsInterval:   30 * time.Second,
		},
		Compression: CompressionConfig{
			Algorithm: "gzip",
			Threshold: 1024,
		},
		Query: QueryConfig{
			MaxEntries:      500,
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Monitor: MonitorConfig{Addr: ":8090"},
	}
}

// LoadFromFile merges a YAML file into the configuration.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv applies environment variable overrides. Connection settings
// come from the conventional REDIS_* names so deployments can inject them
// without a config file.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			c.Redis.DB = db
		}
	}
	if val := os.Getenv("CACHEKIT_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("CACHEKIT_MONITOR_ADDR"); val != "" {
		c.Monitor.Addr = val
	}
}

// Validate checks the configuration for contradictions before anything is
// wired up.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must not be empty")
	}
	if c.Cache.L1MaxEntries <= 0 {
		return fmt.Errorf("cache.l1_max_entries must be greater than 0")
	}
	switch c.Compression.Algorithm {
	case "gzip", "deflate", "brotli":
	default:
		return fmt.Errorf("invalid compression.algorithm: %s (must be gzip, deflate, or brotli)", c.Compression.Algorithm)
	}
	for name, s := range c.Strategies {
		if s.TTL <= 0 {
			return fmt.Errorf("strategy %q: ttl must be positive", name)
		}
	}
	for _, r := range c.Prefetch {
		if r.Probability < 0 || r.Probability > 1 {
			return fmt.Errorf("prefetch rule %q: probability %v out of range [0,1]", r.Pattern, r.Probability)
		}
	}
	for table, deps := range c.Query.Dependencies {
		if table == "" {
			return fmt.Errorf("query.dependencies: table name must not be empty")
		}
		for _, dep := range deps {
			if dep == "" {
				return fmt.Errorf("query.dependencies: %s has an empty dependent table", table)
			}
		}
	}
	return nil
}

// StoreConfig converts the Redis section for store.NewClient.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Addr:           c.Redis.Addr,
		Password:       c.Redis.Password,
		DB:             c.Redis.DB,
		DialTimeout:    c.Redis.DialTimeout,
		CommandTimeout: c.Redis.CommandTimeout,
	}
}

// CompressOptions converts the compression section for compress.New.
func (c *Config) CompressOptions() compress.Options {
	return compress.Options{
		Algorithm: compress.Algorithm(c.Compression.Algorithm),
		Threshold: c.Compression.Threshold,
	}
}

// CacheStrategies converts the strategies section. Returns nil when no
// strategies are configured so the manager falls back to its defaults.
func (c *Config) CacheStrategies() map[string]cache.Strategy {
	if len(c.Strategies) == 0 {
		return nil
	}
	strategies := make(map[string]cache.Strategy, len(c.Strategies))
	for name, s := range c.Strategies {
		strategies[name] = cache.Strategy{
			TTL:                s.TTL,
			Priority:           cache.Priority(s.Priority),
			PrefetchEnabled:    s.Prefetch,
			EdgeCaching:        s.EdgeCaching,
			CompressionEnabled: s.Compression,
			Tags:               s.Tags,
		}
	}
	return strategies
}

// PrefetchRules converts the prefetch section.
func (c *Config) PrefetchRules() []cache.PrefetchRule {
	rules := make([]cache.PrefetchRule, 0, len(c.Prefetch))
	for _, r := range c.Prefetch {
		rules = append(rules, cache.PrefetchRule{
			Pattern:      r.Pattern,
			Probability:  r.Probability,
			Dependencies: r.Dependencies,
			Cooldown:     r.Cooldown,
		})
	}
	return rules
}

// QueryDependencies converts the query dependency graph. Returns nil when
// unset so the query cache falls back to its defaults.
func (c *Config) QueryDependencies() query.Dependencies {
	if len(c.Query.Dependencies) == 0 {
		return nil
	}
	return query.Dependencies(c.Query.Dependencies)
}
