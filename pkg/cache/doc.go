// Package cache provides a multi-tier cache manager coordinating an
// in-memory tier (L1), a simulated edge tier, and a Redis-backed store
// tier (L2).
//
// The manager owns named strategies (TTL, priority, edge caching,
// compression, prefetch) and prefetch rules (key pattern to dependent-key
// predictions with probability and cooldown). Reads probe tiers top-down
// and promote hits into every faster tier; writes go through to every tier
// the resolved strategy enables.
//
// # Basic Usage
//
//	storeClient := store.NewClient(store.DefaultConfig())
//
//	manager, err := cache.NewManager(cache.Options{
//		Store: storeClient,
//	})
//	if err != nil {
//		return err
//	}
//	manager.Start()
//	defer manager.Close()
//
//	// Write through all tiers
//	err = manager.Set(ctx, "app:estimates:e1:summary", payload, cache.SetOptions{
//		Strategy: "session",
//		Tags:     []string{"estimates"},
//	})
//
//	// Tier-probed read with promotion
//	data, err := manager.Get(ctx, "app:estimates:e1:summary", cache.GetOptions{})
//	if err == cache.ErrCacheMiss {
//		// Fetch from the authoritative source, then Set
//	}
//
// # Prefetching
//
// On a miss, every matching prefetch rule synthesizes related keys by
// substituting its dependencies into the missed key, gated by a weighted
// coin-flip at the rule's probability. Predictions land in a bounded queue
// drained by a background worker (five keys per one-second tick) that
// fetches with prefetch disabled, so prefetch misses cannot cascade.
//
//	manager, err := cache.NewManager(cache.Options{
//		Store:  storeClient,
//		Loader: loadFromDatabase,
//		Rules: []cache.PrefetchRule{{
//			Pattern:      "app:estimates:*",
//			Probability:  0.8,
//			Dependencies: []string{"materials", "labor"},
//			Cooldown:     30 * time.Second,
//		}},
//	})
//
// # Invalidation
//
// Entries carry tags from their strategy plus per-call tags. A mutation to
// upstream data invalidates all derivatives at once:
//
//	n := manager.InvalidateByTags(ctx, []string{"estimates"})
//
// # Failure Semantics
//
// Cache failures are never fatal. Store errors degrade the affected tier to
// a miss or drop the write; compression failures store the payload
// uncompressed. The only error a caller must handle besides ErrCacheMiss is
// ErrUnknownStrategy, which indicates a misconfiguration.
//
// # Metrics
//
// The manager exports Prometheus metrics:
//
//   - cachekit_hits_total{tier} - Cache hits by tier
//   - cachekit_misses_total - Cache misses
//   - cachekit_prefetch_queued_total - Prefetch predictions enqueued
//   - cachekit_hit_rate - Rolling hit rate
//
// GetAnalytics returns the same view programmatically, plus the top-N
// most-accessed key patterns.
package cache
