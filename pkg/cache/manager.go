package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quoteflow/cachekit/pkg/compress"
	"github.com/quoteflow/cachekit/pkg/logging"
	"github.com/quoteflow/cachekit/pkg/store"
)

var (
	// ErrCacheMiss indicates the requested key was not found in any tier.
	ErrCacheMiss = errors.New("cache miss")

	// ErrUnknownStrategy indicates an operation named a strategy that was
	// never registered. This is a misconfiguration the caller must fix,
	// not a transient runtime condition.
	ErrUnknownStrategy = errors.New("unknown cache strategy")
)

// Loader produces the authoritative value for a key. The cache never
// originates data itself; the prefetch worker and cache warming rely on a
// caller-supplied Loader.
type Loader func(ctx context.Context, key string) ([]byte, error)

// Options configures a Manager.
type Options struct {
	// Store is the L2 backing store client (required).
	Store *store.Client

	// Compressor handles payload compression (default: gzip compressor).
	Compressor *compress.Compressor

	// Loader supplies authoritative values for prefetch and warming.
	// Optional; without it the worker only promotes L2 values upward.
	Loader Loader

	// Strategies is the named policy registry (default: DefaultStrategies).
	Strategies map[string]Strategy

	// Rules are the prefetch rules, validated at construction.
	Rules []PrefetchRule

	// L1MaxEntries bounds the in-memory tier (default: 1000).
	L1MaxEntries int

	// EdgeMaxEntries bounds the simulated edge tier (default: 1000).
	EdgeMaxEntries int

	// PrefetchQueueSize bounds the pending prefetch set (default: 100).
	PrefetchQueueSize int

	// PrefetchInterval is the worker tick (default: 1s).
	PrefetchInterval time.Duration

	// PrefetchBatch is the max keys fetched per tick (default: 5).
	PrefetchBatch int

	// CleanupInterval is the expired-entry sweep interval (default: 5m).
	CleanupInterval time.Duration

	// MetricsInterval is the analytics emission interval (default: 30s).
	MetricsInterval time.Duration

	// WarmBatchSize is the warming batch size (default: 10).
	WarmBatchSize int

	// WarmDelay is the pause between warming batches (default: 50ms).
	WarmDelay time.Duration

	// Rand returns a value in [0,1) for probability-weighted prefetch.
	// Injectable so tests can assert prefetch behavior deterministically
	// (default: math/rand).
	Rand func() float64

	// Now returns the current time (default: time.Now). Injectable for
	// TTL tests.
	Now func() time.Time
}

// GetOptions modifies a single Get.
type GetOptions struct {
	// Strategy names the policy to resolve (default: "default").
	Strategy string

	// DisablePrefetch suppresses prefetch prediction on miss. The worker
	// sets this to avoid recursive prefetch storms.
	DisablePrefetch bool

	// BypassCache skips all tiers and forces a miss.
	BypassCache bool
}

// SetOptions modifies a single Set.
type SetOptions struct {
	// Strategy names the policy to resolve (default: "default").
	Strategy string

	// TTL overrides the strategy TTL when positive.
	TTL time.Duration

	// Tags are added to the strategy's tags.
	Tags []string
}

// WarmResult reports the outcome of WarmCache.
type WarmResult struct {
	Succeeded int
	Failed    int
}

// Analytics is a snapshot of operational cache metrics.
type Analytics struct {
	HitRate            float64        `json:"hit_rate"`
	AvgResponseTime    time.Duration  `json:"avg_response_time"`
	EdgeHitRate        float64        `json:"edge_hit_rate"`
	PrefetchEfficiency float64        `json:"prefetch_efficiency"`
	TopPatterns        []PatternCount `json:"top_patterns"`
}

// Manager orchestrates the in-memory tier (L1), the simulated edge tier,
// and the backing store (L2). Reads probe tiers top-down with upward
// promotion; writes go through to every tier the resolved strategy enables.
type Manager struct {
	strategies map[string]Strategy
	rules      []PrefetchRule
	ruleState  *ruleState

	l1    *memoryTier
	edge  *memoryTier
	store *store.Client

	compressor *compress.Compressor
	loader     Loader

	queue    *prefetchQueue
	patterns *accessTracker

	opts   Options
	rand   func() float64
	now    func() time.Time
	logger zerolog.Logger

	statsMu sync.Mutex
	stats   managerStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type managerStats struct {
	hits           uint64
	misses         uint64
	edgeHits       uint64
	prefetchQueued uint64
	prefetchUsed   uint64
	avgResponse    time.Duration
}

// NewManager creates a cache manager. The strategy registry and prefetch
// rules are validated here; background workers start with Start.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("cache: store client is required")
	}
	if opts.Compressor == nil {
		opts.Compressor = compress.New(compress.Options{})
	}
	if opts.Strategies == nil {
		opts.Strategies = DefaultStrategies()
	}
	if _, ok := opts.Strategies[DefaultStrategyName]; !ok {
		return nil, fmt.Errorf("cache: strategy registry must contain %q", DefaultStrategyName)
	}
	for name, strategy := range opts.Strategies {
		if err := strategy.validate(name); err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
	}
	for _, rule := range opts.Rules {
		if err := rule.validate(); err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
	}

	if opts.L1MaxEntries <= 0 {
		opts.L1MaxEntries = 1000
	}
	if opts.EdgeMaxEntries <= 0 {
		opts.EdgeMaxEntries = 1000
	}
	if opts.PrefetchQueueSize <= 0 {
		opts.PrefetchQueueSize = 100
	}
	if opts.PrefetchInterval <= 0 {
		opts.PrefetchInterval = time.Second
	}
	if opts.PrefetchBatch <= 0 {
		opts.PrefetchBatch = 5
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = 30 * time.Second
	}
	if opts.WarmBatchSize <= 0 {
		opts.WarmBatchSize = 10
	}
	if opts.WarmDelay <= 0 {
		opts.WarmDelay = 50 * time.Millisecond
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		strategies: opts.Strategies,
		rules:      opts.Rules,
		ruleState:  newRuleState(),
		l1:         newMemoryTier(opts.L1MaxEntries),
		edge:       newMemoryTier(opts.EdgeMaxEntries),
		store:      opts.Store,
		compressor: opts.Compressor,
		loader:     opts.Loader,
		queue:      newPrefetchQueue(opts.PrefetchQueueSize),
		patterns:   newAccessTracker(),
		opts:       opts,
		rand:       opts.Rand,
		now:        opts.Now,
		logger:     logging.NewLogger("cache-manager"),
	}, nil
}

// Start launches the prefetch worker, the cleanup sweep, and periodic
// metrics emission. Workers stop when Close is called.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(3)
	go m.prefetchWorker(ctx)
	go m.cleanupWorker(ctx)
	go m.metricsWorker(ctx)

	m.logger.Info().
		Dur("prefetch_interval", m.opts.PrefetchInterval).
		Dur("cleanup_interval", m.opts.CleanupInterval).
		Msg("Cache manager started")
}

// Close stops background workers. Safe to call multiple times.
func (m *Manager) Close() {
	m.once.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
		m.logger.Info().Msg("Cache manager stopped")
	})
}

// Get retrieves a value, probing L1, then edge, then the backing store.
// A hit at a lower tier is promoted into every faster tier. On a genuine
// miss the manager predicts related keys and enqueues them for prefetch
// without blocking the call.
func (m *Manager) Get(ctx context.Context, key string, opts GetOptions) ([]byte, error) {
	strategy, err := m.resolveStrategy(opts.Strategy)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { m.observe(time.Since(start)) }()

	now := m.now()
	m.patterns.record(key, now)

	if opts.BypassCache {
		// A forced refresh is counted as a miss but is not an access
		// signal, so it never seeds prefetch prediction.
		m.recordMiss()
		return nil, ErrCacheMiss
	}

	// L1
	if entry, ok := m.l1.get(key, now); ok {
		m.recordHit("l1", entry)
		return m.payload(entry), nil
	}

	// Edge
	if strategy.EdgeCaching {
		if entry, ok := m.edge.get(key, now); ok {
			m.l1.set(entry)
			m.recordEdgeHit(entry)
			return m.payload(entry), nil
		}
	}

	// L2 backing store
	var entry Entry
	if m.store.GetJSON(ctx, key, &entry) && !entry.IsExpired(now) {
		entry.Metadata.HitCount++
		m.l1.set(&entry)
		if strategy.EdgeCaching {
			m.edge.set(&entry)
		}
		m.recordHit("store", &entry)
		return m.payload(&entry), nil
	}

	m.recordMiss()
	if !opts.DisablePrefetch && strategy.PrefetchEnabled {
		m.predictAndEnqueue(key)
	}
	return nil, ErrCacheMiss
}

// Set writes a value through to every tier the resolved strategy enables:
// L1 and the backing store always, the edge tier only when the strategy
// asks for it. TTL and tags default from the strategy but are overridable
// per call.
func (m *Manager) Set(ctx context.Context, key string, data []byte, opts SetOptions) error {
	strategy, err := m.resolveStrategy(opts.Strategy)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() { m.observe(time.Since(start)) }()

	ttl := strategy.TTL
	if opts.TTL > 0 {
		ttl = opts.TTL
	}
	tags := append(append([]string(nil), strategy.Tags...), opts.Tags...)

	entry := m.buildEntry(key, data, ttl, tags, opts.Strategy, strategy, false)
	m.writeThrough(ctx, entry, strategy)
	cacheSetsTotal.Inc()
	return nil
}

// buildEntry assembles an Entry, compressing the payload when the strategy
// enables it.
func (m *Manager) buildEntry(key string, data []byte, ttl time.Duration, tags []string, strategyName string, strategy Strategy, prefetched bool) *Entry {
	if strategyName == "" {
		strategyName = DefaultStrategyName
	}

	payload := data
	compressed := false
	if strategy.CompressionEnabled {
		result := m.compressor.Compress(data)
		payload = result.Data
		compressed = result.Compressed
	}

	return &Entry{
		Key:  key,
		Data: payload,
		Metadata: Metadata{
			Size:       len(data),
			Compressed: compressed,
			Timestamp:  m.now(),
			TTL:        ttl,
			Tags:       tags,
			Strategy:   strategyName,
			Prefetched: prefetched,
		},
	}
}

func (m *Manager) writeThrough(ctx context.Context, entry *Entry, strategy Strategy) {
	m.l1.set(entry)
	if strategy.EdgeCaching {
		m.edge.set(entry)
	}
	if !m.store.SetJSON(ctx, entry.Key, entry, entry.Metadata.TTL) {
		m.logger.Warn().Str("key", entry.Key).Msg("Store write failed, entry cached in memory only")
	}
}

// Delete removes a key from every tier.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	deleted := m.l1.delete(key)
	if m.edge.delete(key) {
		deleted = true
	}
	if m.store.Delete(ctx, key) {
		deleted = true
	}
	cacheDeletesTotal.Inc()
	return deleted
}

// InvalidateByTags deletes every entry carrying any of the given tags from
// every tier and returns the number of keys removed. Used when an upstream
// mutation must blow away all cached derivatives regardless of TTL.
func (m *Manager) InvalidateByTags(ctx context.Context, tags []string) int {
	if len(tags) == 0 {
		return 0
	}
	now := m.now()

	seen := make(map[string]struct{})
	for _, key := range m.l1.keysWithTags(tags, now) {
		seen[key] = struct{}{}
	}
	for _, key := range m.edge.keysWithTags(tags, now) {
		seen[key] = struct{}{}
	}

	count := 0
	for key := range seen {
		if m.Delete(ctx, key) {
			count++
		}
	}

	cacheInvalidationsTotal.Add(float64(count))
	m.logger.Debug().Strs("tags", tags).Int("count", count).Msg("Tag invalidation")
	return count
}

// WarmCache pre-populates known-hot keys in batches, intended for use at
// deploy time. Requires a Loader.
func (m *Manager) WarmCache(ctx context.Context, keys []string, strategyName string) (WarmResult, error) {
	if m.loader == nil {
		return WarmResult{}, fmt.Errorf("cache: warming requires a loader")
	}
	strategy, err := m.resolveStrategy(strategyName)
	if err != nil {
		return WarmResult{}, err
	}

	var result WarmResult
	for i := 0; i < len(keys); i += m.opts.WarmBatchSize {
		end := i + m.opts.WarmBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		for _, key := range keys[i:end] {
			data, err := m.loader(ctx, key)
			if err != nil {
				result.Failed++
				m.logger.Debug().Err(err).Str("key", key).Msg("Warm fetch failed")
				continue
			}
			entry := m.buildEntry(key, data, strategy.TTL, strategy.Tags, strategyName, strategy, false)
			m.writeThrough(ctx, entry, strategy)
			result.Succeeded++
		}

		if end < len(keys) {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(m.opts.WarmDelay):
			}
		}
	}

	m.logger.Info().
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("Cache warming complete")
	return result, nil
}

// GetAnalytics returns rolling operational metrics.
func (m *Manager) GetAnalytics() Analytics {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	total := m.stats.hits + m.stats.misses
	var hitRate, edgeRate, prefetchEff float64
	if total > 0 {
		hitRate = float64(m.stats.hits) / float64(total)
	}
	if m.stats.hits > 0 {
		edgeRate = float64(m.stats.edgeHits) / float64(m.stats.hits)
	}
	if m.stats.prefetchQueued > 0 {
		prefetchEff = float64(m.stats.prefetchUsed) / float64(m.stats.prefetchQueued)
	}

	return Analytics{
		HitRate:            hitRate,
		AvgResponseTime:    m.stats.avgResponse,
		EdgeHitRate:        edgeRate,
		PrefetchEfficiency: prefetchEff,
		TopPatterns:        m.patterns.topPatterns(10),
	}
}

// resolveStrategy maps a name to a registered strategy. Empty names resolve
// to the default strategy; unknown names are a programmer error.
func (m *Manager) resolveStrategy(name string) (Strategy, error) {
	if name == "" {
		name = DefaultStrategyName
	}
	strategy, ok := m.strategies[name]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return strategy, nil
}

// payload returns the entry data, decompressing when needed. Decompression
// failures degrade to the stored bytes.
func (m *Manager) payload(entry *Entry) []byte {
	if !entry.Metadata.Compressed {
		return entry.Data
	}
	return m.compressor.Decompress(entry.Data, m.compressor.Algorithm())
}

func (m *Manager) recordHit(tier string, entry *Entry) {
	cacheHitsTotal.WithLabelValues(tier).Inc()

	m.statsMu.Lock()
	m.stats.hits++
	if entry.Metadata.Prefetched && entry.Metadata.HitCount == 1 {
		m.stats.prefetchUsed++
	}
	m.statsMu.Unlock()
}

func (m *Manager) recordEdgeHit(entry *Entry) {
	cacheHitsTotal.WithLabelValues("edge").Inc()

	m.statsMu.Lock()
	m.stats.hits++
	m.stats.edgeHits++
	if entry.Metadata.Prefetched && entry.Metadata.HitCount == 1 {
		m.stats.prefetchUsed++
	}
	m.statsMu.Unlock()
}

func (m *Manager) recordMiss() {
	cacheMissesTotal.Inc()
	m.statsMu.Lock()
	m.stats.misses++
	m.statsMu.Unlock()
}

func (m *Manager) observe(elapsed time.Duration) {
	m.statsMu.Lock()
	m.stats.avgResponse = time.Duration(
		float64(m.stats.avgResponse)*0.9 + float64(elapsed)*0.1)
	m.statsMu.Unlock()
}
