// Package query provides database-query caching: it normalizes query
// signatures into stable cache keys, tags entries with table dependencies,
// and invalidates by table, tag, or key pattern.
//
// Storage is multiplexed across an in-memory map, a session-scoped tier,
// and a persistent tier behind the string-only Storage interface. Reads
// probe memory, then session, then persistent, promoting hits upward. It is
// a parallel implementation to the generic multi-tier manager, sharing only
// data-model vocabulary.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quoteflow/cachekit/pkg/compress"
	"github.com/quoteflow/cachekit/pkg/logging"
)

// ErrCacheMiss indicates no tier held a live entry for the signature.
var ErrCacheMiss = errors.New("query: cache miss")

const (
	// sessionMaxBytes caps entries handed to session storage.
	sessionMaxBytes = 100 * 1024

	// persistentMaxBytes caps entries handed to persistent storage.
	persistentMaxBytes = 50 * 1024

	// persistentMinTTL is the minimum TTL worth persisting.
	persistentMinTTL = 60 * time.Second

	// quotaEvictBatch bounds the entries purged per quota-recovery cycle.
	quotaEvictBatch = 10
)

// Options configures a query Cache.
type Options struct {
	// Session is the session-scoped storage tier (optional).
	Session Storage

	// Persistent is the persistent storage tier (optional).
	Persistent Storage

	// Compressor handles large-entry compression (default: gzip).
	Compressor *compress.Compressor

	// Dependencies is the static table dependency graph
	// (default: DefaultDependencies).
	Dependencies Dependencies

	// MaxEntries bounds the memory tier (default: 500).
	MaxEntries int

	// DefaultTTL applies when a query names none (default: 5m).
	DefaultTTL time.Duration

	// CleanupInterval is the expired-entry sweep interval (default: 5m).
	CleanupInterval time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// QueryOptions modifies a single cached query.
type QueryOptions struct {
	// TTL overrides the default when positive.
	TTL time.Duration

	// Tags are attached to the entry in addition to its table tags.
	Tags []string

	// BypassCache skips the read path and forces the query to run.
	BypassCache bool
}

// entry is the in-memory representation of a cached query result.
type entry struct {
	Key        string        `json:"key"`
	Data       []byte        `json:"data"`
	Compressed bool          `json:"compressed"`
	Timestamp  time.Time     `json:"timestamp"`
	TTL        time.Duration `json:"ttl"`
	HitCount   int           `json:"hit_count"`
	Tags       []string      `json:"tags,omitempty"`
	Tables     []string      `json:"tables"`
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.Timestamp.Add(e.TTL))
}

// Stats is a snapshot of query cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	DroppedWrites uint64
	MemoryEntries int
}

// Cache is the query result cache. All methods are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	memory  map[string]*entry
	session Storage
	persist Storage

	compressor *compress.Compressor
	deps       Dependencies
	opts       Options
	now        func() time.Time
	logger     zerolog.Logger

	stats Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewCache creates a query cache.
func NewCache(opts Options) *Cache {
	if opts.Compressor == nil {
		opts.Compressor = compress.New(compress.Options{})
	}
	if opts.Dependencies == nil {
		opts.Dependencies = DefaultDependencies()
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 500
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Cache{
		memory:     make(map[string]*entry),
		session:    opts.Session,
		persist:    opts.Persistent,
		compressor: opts.Compressor,
		deps:       opts.Dependencies,
		opts:       opts,
		now:        opts.Now,
		logger:     logging.NewLogger("query-cache"),
	}
}

// Start launches the periodic cleanup sweep.
func (c *Cache) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.sweepWorker(ctx)
}

// Close stops the cleanup sweep. Safe to call multiple times.
func (c *Cache) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

// Do returns the cached result for sig, or runs fn and caches its result
// tagged with the queried table plus its configured dependents. Cache
// failures degrade to running the query; fn errors propagate unchanged.
func (c *Cache) Do(ctx context.Context, sig Signature, opts QueryOptions, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	key := sig.Key()

	if !opts.BypassCache {
		if data, ok := c.get(key); ok {
			queryHitsTotal.Inc()
			return data, nil
		}
		queryMissesTotal.Inc()
	}

	data, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	ttl := c.opts.DefaultTTL
	if opts.TTL > 0 {
		ttl = opts.TTL
	}

	c.put(&entry{
		Key:       key,
		Data:      data,
		Timestamp: c.now(),
		TTL:       ttl,
		Tags:      opts.Tags,
		Tables:    c.deps.Affected(sig.Table),
	})
	return data, nil
}

// Cached is the typed convenience wrapper around Do: results are JSON
// encoded for storage and decoded on hit.
func Cached[T any](ctx context.Context, c *Cache, sig Signature, opts QueryOptions, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	data, err := c.Do(ctx, sig, opts, func(ctx context.Context) ([]byte, error) {
		result, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		return zero, err
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		// A corrupt cached payload must not fail the query.
		fresh, err := fn(ctx)
		if err != nil {
			return zero, err
		}
		return fresh, nil
	}
	return result, nil
}

// get probes memory, then session, then persistent storage, promoting hits
// upward.
func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if e, ok := c.memory[key]; ok {
		if e.expired(now) {
			delete(c.memory, key)
		} else {
			e.HitCount++
			c.stats.Hits++
			return c.payload(e), true
		}
	}

	if e, ok := c.readStorage(c.session, key, now); ok {
		e.HitCount++
		c.storeMemory(e)
		c.stats.Hits++
		return c.payload(e), true
	}

	if e, ok := c.readStorage(c.persist, key, now); ok {
		e.HitCount++
		c.storeMemory(e)
		c.writeStorage(c.session, e, sessionMaxBytes, 0)
		c.stats.Hits++
		return c.payload(e), true
	}

	c.stats.Misses++
	return nil, false
}

// put writes an entry to every tier it qualifies for.
func (c *Cache) put(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.storeMemory(e)
	c.writeStorage(c.session, e, sessionMaxBytes, 0)
	c.writeStorage(c.persist, e, persistentMaxBytes, persistentMinTTL)
}

// storeMemory inserts into the memory tier, evicting the lowest-hit-count
// 10% under pressure. Caller holds the lock.
func (c *Cache) storeMemory(e *entry) {
	if _, exists := c.memory[e.Key]; !exists && len(c.memory) >= c.opts.MaxEntries {
		c.evictColdest()
	}
	c.memory[e.Key] = e
}

func (c *Cache) evictColdest() {
	n := len(c.memory) / 10
	if n < 1 {
		n = 1
	}

	for i := 0; i < n; i++ {
		coldKey := ""
		coldHits := 0
		for key, e := range c.memory {
			if coldKey == "" || e.HitCount < coldHits {
				coldKey = key
				coldHits = e.HitCount
			}
		}
		if coldKey == "" {
			return
		}
		delete(c.memory, coldKey)
		c.dropFromStorage(coldKey)
		c.stats.Evictions++
		queryEvictionsTotal.Inc()
	}
}

// payload returns entry data, decompressing transparently.
func (c *Cache) payload(e *entry) []byte {
	if !e.Compressed {
		return e.Data
	}
	return c.compressor.Decompress(e.Data, c.compressor.Algorithm())
}

// readStorage loads and decodes an entry from a storage tier. Expired and
// malformed entries are purged on access.
func (c *Cache) readStorage(s Storage, key string, now time.Time) (*entry, bool) {
	if s == nil {
		return nil, false
	}
	raw, ok := s.Get(key)
	if !ok {
		return nil, false
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		s.Remove(key)
		c.logger.Warn().Err(err).Str("key", key).Msg("Malformed stored entry, purged")
		return nil, false
	}
	if e.expired(now) {
		s.Remove(key)
		return nil, false
	}
	return &e, true
}

// writeStorage hands an entry to a storage tier, compressing large payloads
// first. On quota exhaustion it evicts expired or never-hit entries and
// retries once; a write that still fails is dropped silently.
func (c *Cache) writeStorage(s Storage, e *entry, maxBytes int, minTTL time.Duration) {
	if s == nil {
		return
	}
	if len(e.Data) >= maxBytes {
		return
	}
	if minTTL > 0 && e.TTL <= minTTL {
		return
	}

	stored := *e
	if !stored.Compressed {
		result := c.compressor.Compress(stored.Data)
		stored.Data = result.Data
		stored.Compressed = result.Compressed
	}

	raw, err := json.Marshal(&stored)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", e.Key).Msg("Entry encode failed, dropping storage write")
		return
	}

	if err := s.Set(e.Key, string(raw)); err == nil {
		return
	} else if !errors.Is(err, ErrQuotaExceeded) {
		c.stats.DroppedWrites++
		return
	}

	c.recoverQuota(s)

	if err := s.Set(e.Key, string(raw)); err != nil {
		// Still failing after eviction: a cache write failure must never
		// surface as a user-facing error.
		c.stats.DroppedWrites++
		queryDroppedWritesTotal.Inc()
		c.logger.Warn().Str("key", e.Key).Msg("Storage quota exhausted, write dropped")
	}
}

// recoverQuota purges expired or never-hit stored entries, bounded per cycle.
func (c *Cache) recoverQuota(s Storage) {
	now := c.now()
	purged := 0

	for _, key := range s.Keys() {
		if purged >= quotaEvictBatch {
			break
		}
		raw, ok := s.Get(key)
		if !ok {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.Remove(key)
			purged++
			continue
		}
		if e.expired(now) || e.HitCount == 0 {
			s.Remove(key)
			purged++
		}
	}
}

func (c *Cache) dropFromStorage(key string) {
	if c.session != nil {
		c.session.Remove(key)
	}
	if c.persist != nil {
		c.persist.Remove(key)
	}
}

// InvalidateTable purges every entry whose dependency list contains the
// mutated table or one of its dependents.
func (c *Cache) InvalidateTable(table string) int {
	affected := make(map[string]struct{})
	for _, t := range c.deps.Affected(table) {
		affected[t] = struct{}{}
	}

	return c.invalidate(func(e *entry) bool {
		for _, t := range e.Tables {
			if _, ok := affected[t]; ok {
				return true
			}
		}
		return false
	})
}

// InvalidateTag purges every entry carrying the tag.
func (c *Cache) InvalidateTag(tag string) int {
	return c.invalidate(func(e *entry) bool {
		for _, t := range e.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

// InvalidatePattern purges every entry whose key contains the substring.
func (c *Cache) InvalidatePattern(substr string) int {
	return c.invalidate(func(e *entry) bool {
		return strings.Contains(e.Key, substr)
	})
}

// invalidate scans the memory tier and purges matches from all tiers.
func (c *Cache) invalidate(match func(*entry) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.memory {
		if match(e) {
			delete(c.memory, key)
			c.dropFromStorage(key)
			count++
		}
	}

	queryInvalidationsTotal.Add(float64(count))
	return count
}

// Sweep purges logically expired entries from the memory tier and returns
// the count. Called periodically by the cleanup worker; exported for
// deterministic tests.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	for key, e := range c.memory {
		if e.expired(now) {
			delete(c.memory, key)
			purged++
		}
	}
	return purged
}

func (c *Cache) sweepWorker(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := c.Sweep(); purged > 0 {
				c.logger.Debug().Int("purged", purged).Msg("Query cache sweep")
			}
		}
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.MemoryEntries = len(c.memory)
	return stats
}
