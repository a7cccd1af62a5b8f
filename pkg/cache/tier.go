package cache

import (
	"sort"
	"sync"
	"time"
)

// memoryTier is an in-process entry map with logical TTL expiry and
// hit-count pressure eviction. It backs both the L1 tier and the simulated
// edge tier.
type memoryTier struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int
}

// evictFraction is the share of entries removed under pressure.
const evictFraction = 0.1

func newMemoryTier(maxEntries int) *memoryTier {
	return &memoryTier{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

// get returns a snapshot of the entry and increments its hit count.
// Expired entries are purged on access and reported as a miss. Returning a
// copy keeps the tier's entry private: callers and other tiers can read it
// after this lock is released without seeing later hit-count mutations.
func (t *memoryTier) get(key string, now time.Time) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	if entry.IsExpired(now) {
		delete(t.entries, key)
		return nil, false
	}
	entry.Metadata.HitCount++
	snapshot := *entry
	return &snapshot, true
}

// peek returns a snapshot of the entry without touching the hit count.
func (t *memoryTier) peek(key string, now time.Time) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[key]
	if !ok || entry.IsExpired(now) {
		return nil, false
	}
	snapshot := *entry
	return &snapshot, true
}

// set stores a private copy of the entry, evicting the lowest-hit-count
// entries when the tier is full. Each tier owns its copy, so promotions and
// write-through never share one Entry between two tier mutexes.
func (t *memoryTier) set(entry *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[entry.Key]; !exists && t.maxEntries > 0 && len(t.entries) >= t.maxEntries {
		t.evictColdest()
	}
	owned := *entry
	t.entries[entry.Key] = &owned
}

// evictColdest removes the lowest-hit-count 10% of entries (at least one).
// Caller holds the lock.
func (t *memoryTier) evictColdest() {
	type candidate struct {
		key  string
		hits int
	}
	candidates := make([]candidate, 0, len(t.entries))
	for key, entry := range t.entries {
		candidates = append(candidates, candidate{key: key, hits: entry.Metadata.HitCount})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].hits < candidates[j].hits
	})

	n := int(float64(len(candidates)) * evictFraction)
	if n < 1 {
		n = 1
	}
	for _, c := range candidates[:n] {
		delete(t.entries, c.key)
	}
}

func (t *memoryTier) delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[key]
	delete(t.entries, key)
	return ok
}

// purgeExpired removes logically expired entries and returns the count.
func (t *memoryTier) purgeExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	purged := 0
	for key, entry := range t.entries {
		if entry.IsExpired(now) {
			delete(t.entries, key)
			purged++
		}
	}
	return purged
}

// keysWithTags returns the keys of live entries carrying any of the tags.
func (t *memoryTier) keysWithTags(tags []string, now time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var keys []string
	for key, entry := range t.entries {
		if entry.IsExpired(now) {
			continue
		}
		if entry.hasTag(tags) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (t *memoryTier) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
