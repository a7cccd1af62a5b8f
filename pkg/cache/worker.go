package cache

import (
	"context"
	"time"
)

// predictAndEnqueue runs prefetch prediction for a just-missed key and
// pushes deduplicated predictions into the queue. It never blocks the
// triggering Get.
func (m *Manager) predictAndEnqueue(key string) {
	now := m.now()
	queued := 0

	// Pattern-based prediction: each matching rule synthesizes related
	// keys from its dependency list, gated by a weighted coin-flip.
	for i, rule := range m.rules {
		if !rule.matches(key) {
			continue
		}
		if !m.ruleState.tryFire(i, rule.Cooldown, now) {
			continue
		}
		for _, dep := range rule.Dependencies {
			if m.rand() > rule.Probability {
				continue
			}
			related, ok := relatedKey(key, dep)
			if !ok || related == key {
				continue
			}
			if m.queue.enqueue(related) {
				queued++
			}
		}
	}

	// Temporal prediction: consulted once a key has enough recorded
	// accesses. Temporal co-access mining is not implemented; pattern
	// rules are the only real predictive mechanism.
	if m.patterns.accessCount(key) >= temporalMinAccesses {
		for _, related := range m.temporalRelated(key) {
			if m.queue.enqueue(related) {
				queued++
			}
		}
	}

	if queued > 0 {
		prefetchQueuedTotal.Add(float64(queued))
		m.statsMu.Lock()
		m.stats.prefetchQueued += uint64(queued)
		m.statsMu.Unlock()
		m.logger.Debug().Str("key", key).Int("queued", queued).Msg("Prefetch predictions enqueued")
	}
}

// temporalRelated returns keys temporally co-accessed with key.
func (m *Manager) temporalRelated(string) []string {
	return nil
}

// prefetchWorker drains the prefetch queue on a fixed interval, fetching a
// bounded batch per tick. Fetches run with prefetch disabled so a prefetch
// miss cannot trigger further prefetch.
func (m *Manager) prefetchWorker(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.PrefetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range m.queue.dequeue(m.opts.PrefetchBatch) {
				m.prefetchOne(ctx, key)
			}
		}
	}
}

// prefetchOne populates caches for a predicted key. A hit in any tier
// promotes the entry upward; a full miss consults the loader when one is
// configured. Failures are logged and never stop the worker.
func (m *Manager) prefetchOne(ctx context.Context, key string) {
	_, err := m.Get(ctx, key, GetOptions{DisablePrefetch: true})
	if err == nil {
		return
	}
	if err != ErrCacheMiss || m.loader == nil {
		return
	}

	data, err := m.loader(ctx, key)
	if err != nil {
		m.logger.Debug().Err(err).Str("key", key).Msg("Prefetch fetch failed")
		prefetchFailuresTotal.Inc()
		return
	}

	strategy := m.strategies[DefaultStrategyName]
	entry := m.buildEntry(key, data, strategy.TTL, strategy.Tags, DefaultStrategyName, strategy, true)
	m.writeThrough(ctx, entry, strategy)
	prefetchLoadsTotal.Inc()
}

// cleanupWorker periodically purges logically expired entries from the
// in-memory tiers.
func (m *Manager) cleanupWorker(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.now()
			purged := m.l1.purgeExpired(now) + m.edge.purgeExpired(now)
			if purged > 0 {
				cacheEvictionsTotal.Add(float64(purged))
				m.logger.Debug().Int("purged", purged).Msg("Cleanup sweep")
			}
		}
	}
}

// metricsWorker periodically emits analytics for dashboards.
func (m *Manager) metricsWorker(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			analytics := m.GetAnalytics()
			cacheHitRate.Set(analytics.HitRate)
			cacheResponseTime.Set(analytics.AvgResponseTime.Seconds())

			m.logger.Info().
				Float64("hit_rate", analytics.HitRate).
				Dur("avg_response_time", analytics.AvgResponseTime).
				Float64("edge_hit_rate", analytics.EdgeHitRate).
				Float64("prefetch_efficiency", analytics.PrefetchEfficiency).
				Int("queue_depth", m.queue.len()).
				Msg("Cache analytics")
		}
	}
}
