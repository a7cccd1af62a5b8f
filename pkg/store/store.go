// Package store provides a fault-tolerant client for the Redis-backed L2
// cache tier.
//
// Every operation transparently degrades to an in-process map when the
// remote store is unreachable. Callers never see a different contract based
// on which backend served the request; a cache miss is always an acceptable
// answer, so transient connectivity loss is never surfaced as an error.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quoteflow/cachekit/pkg/logging"
)

// ErrNotFound indicates the requested key was not found in the store.
var ErrNotFound = errors.New("store: key not found")

const (
	// reconnectBackoffStep is the linear backoff increment between
	// reconnect attempts.
	reconnectBackoffStep = 250 * time.Millisecond

	// reconnectBackoffMax caps the reconnect backoff.
	reconnectBackoffMax = 2 * time.Second
)

// Config holds connection parameters for the backing store.
type Config struct {
	Addr     string
	Password string
	DB       int

	// DialTimeout bounds connection establishment (default: 5s).
	DialTimeout time.Duration

	// CommandTimeout bounds individual commands (default: 3s).
	// A timed-out command is treated as a connectivity failure.
	CommandTimeout time.Duration
}

// DefaultConfig returns a local-Redis configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           "localhost:6379",
		DialTimeout:    5 * time.Second,
		CommandTimeout: 3 * time.Second,
	}
}

// Stats is a snapshot of client-side operation counters.
type Stats struct {
	TotalCommands   uint64
	Hits            uint64
	Misses          uint64
	Errors          uint64
	FallbackOps     uint64
	AvgResponseTime time.Duration
}

// Health reports store reachability for monitoring.
type Health struct {
	Status  string        `json:"status"` // "ok" or "degraded"
	Latency time.Duration `json:"latency"`
}

// Client wraps a Redis client with an in-process fallback and a circuit
// breaker. All methods are safe for concurrent use.
type Client struct {
	rdb      *redis.Client
	fallback *fallbackStore
	breaker  *gobreaker.CircuitBreaker
	cfg      Config
	logger   zerolog.Logger

	connMu      sync.Mutex
	connected   bool
	attempts    int
	nextAttempt time.Time

	statsMu sync.Mutex
	stats   Stats
}

// NewClient creates a backing store client. The connection is established
// lazily on first use; an unreachable store does not prevent construction.
func NewClient(cfg Config) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 3 * time.Second
	}

	logger := logging.NewLogger("store")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "redis",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 10 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.CommandTimeout,
			WriteTimeout: cfg.CommandTimeout,
		}),
		fallback: newFallbackStore(),
		breaker:  breaker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Get retrieves a value. Returns ErrNotFound on miss; connectivity errors
// degrade to the fallback map.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	defer c.observe("get", time.Now())

	if c.remoteReady(ctx) {
		val, err := c.execute(func() (any, error) {
			return c.rdb.Get(ctx, key).Result()
		})
		switch {
		case err == nil:
			c.recordHit()
			return val.(string), nil
		case errors.Is(err, redis.Nil):
			c.recordMiss()
			return "", ErrNotFound
		default:
			c.remoteFailed("get", err)
		}
	}

	c.recordFallback()
	val, ok := c.fallback.get(key)
	if !ok {
		c.recordMiss()
		return "", ErrNotFound
	}
	c.recordHit()
	return val, nil
}

// Set stores a value with an optional TTL (0 means no expiry).
// Returns false only when the write reached neither backend, which the
// fallback map never lets happen in practice.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	defer c.observe("set", time.Now())

	if c.remoteReady(ctx) {
		_, err := c.execute(func() (any, error) {
			return c.rdb.Set(ctx, key, value, ttl).Result()
		})
		if err == nil {
			return true
		}
		c.remoteFailed("set", err)
	}

	c.recordFallback()
	c.fallback.set(key, value, ttl)
	return true
}

// Delete removes a key from both backends.
func (c *Client) Delete(ctx context.Context, key string) bool {
	defer c.observe("delete", time.Now())

	deleted := c.fallback.delete(key)

	if c.remoteReady(ctx) {
		n, err := c.execute(func() (any, error) {
			return c.rdb.Del(ctx, key).Result()
		})
		if err != nil {
			c.remoteFailed("delete", err)
			return deleted
		}
		return deleted || n.(int64) > 0
	}
	c.recordFallback()
	return deleted
}

// Exists reports whether a key is present.
func (c *Client) Exists(ctx context.Context, key string) bool {
	defer c.observe("exists", time.Now())

	if c.remoteReady(ctx) {
		n, err := c.execute(func() (any, error) {
			return c.rdb.Exists(ctx, key).Result()
		})
		if err == nil {
			return n.(int64) > 0
		}
		c.remoteFailed("exists", err)
	}

	c.recordFallback()
	_, ok := c.fallback.get(key)
	return ok
}

// Expire updates the TTL of an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	defer c.observe("expire", time.Now())

	if c.remoteReady(ctx) {
		ok, err := c.execute(func() (any, error) {
			return c.rdb.Expire(ctx, key, ttl).Result()
		})
		if err == nil {
			return ok.(bool)
		}
		c.remoteFailed("expire", err)
	}

	c.recordFallback()
	return c.fallback.expire(key, ttl)
}

// MGet retrieves multiple keys in one round trip. The result is positional;
// missing keys are nil.
func (c *Client) MGet(ctx context.Context, keys ...string) []*string {
	defer c.observe("mget", time.Now())

	result := make([]*string, len(keys))
	if len(keys) == 0 {
		return result
	}

	if c.remoteReady(ctx) {
		vals, err := c.execute(func() (any, error) {
			return c.rdb.MGet(ctx, keys...).Result()
		})
		if err == nil {
			for i, v := range vals.([]any) {
				if s, ok := v.(string); ok {
					result[i] = &s
					c.recordHit()
				} else {
					c.recordMiss()
				}
			}
			return result
		}
		c.remoteFailed("mget", err)
	}

	c.recordFallback()
	for i, key := range keys {
		if val, ok := c.fallback.get(key); ok {
			v := val
			result[i] = &v
			c.recordHit()
		} else {
			c.recordMiss()
		}
	}
	return result
}

// DeleteByPattern removes all keys matching a glob pattern and returns the
// number deleted. On the remote backend this scans in batches rather than
// blocking the server with KEYS.
func (c *Client) DeleteByPattern(ctx context.Context, pattern string) int {
	defer c.observe("delete_pattern", time.Now())

	count := c.fallback.deleteByPattern(pattern)

	if !c.remoteReady(ctx) {
		c.recordFallback()
		return count
	}

	type scanPage struct {
		keys []string
		next uint64
	}

	var cursor uint64
	for {
		page, err := c.execute(func() (any, error) {
			keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return nil, err
			}
			return scanPage{keys: keys, next: next}, nil
		})
		if err != nil {
			c.remoteFailed("delete_pattern", err)
			return count
		}
		p := page.(scanPage)
		if len(p.keys) > 0 {
			n, err := c.execute(func() (any, error) {
				return c.rdb.Del(ctx, p.keys...).Result()
			})
			if err != nil {
				c.remoteFailed("delete_pattern", err)
				return count
			}
			count += int(n.(int64))
		}
		cursor = p.next
		if cursor == 0 {
			break
		}
	}
	return count
}

// Incr atomically increments a counter, setting the TTL when the key is
// created. Returns 0 and false when neither backend could serve the call.
func (c *Client) Incr(ctx context.Context, key string, ttl time.Duration) (int64, bool) {
	defer c.observe("incr", time.Now())

	if c.remoteReady(ctx) {
		n, err := c.execute(func() (any, error) {
			val, err := c.rdb.Incr(ctx, key).Result()
			if err != nil {
				return nil, err
			}
			if val == 1 && ttl > 0 {
				_ = c.rdb.Expire(ctx, key, ttl).Err()
			}
			return val, nil
		})
		if err == nil {
			return n.(int64), true
		}
		c.remoteFailed("incr", err)
	}

	c.recordFallback()
	return c.fallback.incr(key, ttl), true
}

// GetJSON retrieves a value and unmarshals it into dest. Parse errors are
// swallowed as a miss, since a corrupt cache entry is equivalent to no entry.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) bool {
	val, err := c.Get(ctx, key)
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Malformed JSON in cache entry, treating as miss")
		c.recordError()
		return false
	}
	return true
}

// SetJSON marshals value as JSON and stores it.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("JSON marshal failed, dropping cache write")
		c.recordError()
		return false
	}
	return c.Set(ctx, key, string(data), ttl)
}

// HealthCheck pings the remote store and reports status and latency.
// It does not affect the fallback decision of in-flight operations.
func (c *Client) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return Health{Status: "degraded", Latency: time.Since(start)}
	}
	return Health{Status: "ok", Latency: time.Since(start)}
}

// Stats returns a snapshot of the operation counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// remoteReady reports whether the remote store should be attempted,
// performing a lazy connect with linear backoff when disconnected.
func (c *Client) remoteReady(ctx context.Context) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return true
	}
	if time.Now().Before(c.nextAttempt) {
		return false
	}

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.attempts++
		backoff := time.Duration(c.attempts) * reconnectBackoffStep
		if backoff > reconnectBackoffMax {
			backoff = reconnectBackoffMax
		}
		c.nextAttempt = time.Now().Add(backoff)
		c.logger.Warn().
			Err(err).
			Int("attempt", c.attempts).
			Dur("backoff", backoff).
			Msg("Store unreachable, using in-process fallback")
		return false
	}

	if c.attempts > 0 {
		c.logger.Info().Int("attempts", c.attempts).Msg("Reconnected to store")
	}
	c.connected = true
	c.attempts = 0
	return true
}

// execute runs a remote command through the circuit breaker.
// redis.Nil is a miss, not a failure, and must not trip the breaker.
func (c *Client) execute(fn func() (any, error)) (any, error) {
	val, err := c.breaker.Execute(func() (any, error) {
		v, err := fn()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return v, err
	})
	if err == nil && val == nil {
		return nil, redis.Nil
	}
	return val, err
}

// remoteFailed records a remote error and schedules a reconnect.
func (c *Client) remoteFailed(op string, err error) {
	c.recordError()
	storeErrorsTotal.WithLabelValues(op).Inc()
	c.logger.Warn().Err(err).Str("op", op).Msg("Store command failed, falling back")

	c.connMu.Lock()
	c.connected = false
	c.attempts++
	backoff := time.Duration(c.attempts) * reconnectBackoffStep
	if backoff > reconnectBackoffMax {
		backoff = reconnectBackoffMax
	}
	c.nextAttempt = time.Now().Add(backoff)
	c.connMu.Unlock()
}

func (c *Client) observe(op string, start time.Time) {
	elapsed := time.Since(start)
	storeCommandsTotal.WithLabelValues(op).Inc()
	storeCommandDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	c.statsMu.Lock()
	c.stats.TotalCommands++
	// Exponential moving average, weighted toward history.
	c.stats.AvgResponseTime = time.Duration(
		float64(c.stats.AvgResponseTime)*0.9 + float64(elapsed)*0.1)
	c.statsMu.Unlock()
}

func (c *Client) recordHit() {
	storeHitsTotal.Inc()
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
}

func (c *Client) recordMiss() {
	storeMissesTotal.Inc()
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
}

func (c *Client) recordError() {
	c.statsMu.Lock()
	c.stats.Errors++
	c.statsMu.Unlock()
}

func (c *Client) recordFallback() {
	storeFallbackOpsTotal.Inc()
	c.statsMu.Lock()
	c.stats.FallbackOps++
	c.statsMu.Unlock()
}
