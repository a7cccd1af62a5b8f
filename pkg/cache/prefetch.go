package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// accessPatternWindow bounds the per-key access-time ring buffer.
const accessPatternWindow = 100

// temporalMinAccesses is the minimum recorded accesses before temporal
// prediction is consulted.
const temporalMinAccesses = 3

// accessTracker records per-key access times for prefetch prediction.
// Ring buffers are created lazily on first access, trimmed continuously,
// and never persisted.
type accessTracker struct {
	mu      sync.Mutex
	history map[string][]time.Time
	counts  map[string]int
}

func newAccessTracker() *accessTracker {
	return &accessTracker{
		history: make(map[string][]time.Time),
		counts:  make(map[string]int),
	}
}

func (a *accessTracker) record(key string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	times := append(a.history[key], now)
	if len(times) > accessPatternWindow {
		times = times[len(times)-accessPatternWindow:]
	}
	a.history[key] = times
	a.counts[keyPattern(key)]++
}

func (a *accessTracker) accessCount(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history[key])
}

// topPatterns returns the n most-accessed key patterns.
func (a *accessTracker) topPatterns(n int) []PatternCount {
	a.mu.Lock()
	defer a.mu.Unlock()

	all := make([]PatternCount, 0, len(a.counts))
	for pattern, count := range a.counts {
		all = append(all, PatternCount{Pattern: pattern, Count: count})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Count > all[j].Count })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// PatternCount pairs a key pattern with its access count.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// keyPattern collapses a key to its first two colon segments, grouping
// entity-level traffic for analytics.
func keyPattern(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return key
	}
	return parts[0] + ":" + parts[1]
}

// relatedKey synthesizes a dependent key by replacing the third
// colon-delimited segment with the dependency name. Keys with fewer than
// three segments have no related form.
func relatedKey(key, dependency string) (string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return "", false
	}
	parts[2] = dependency
	return strings.Join(parts, ":"), true
}

// prefetchQueue is a bounded FIFO with set semantics: re-enqueuing a pending
// key is a no-op.
type prefetchQueue struct {
	mu      sync.Mutex
	pending map[string]struct{}
	order   []string
	max     int
}

func newPrefetchQueue(max int) *prefetchQueue {
	return &prefetchQueue{
		pending: make(map[string]struct{}),
		max:     max,
	}
}

// enqueue adds a key. Returns false when already pending or the queue is full.
func (q *prefetchQueue) enqueue(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[key]; exists {
		return false
	}
	if len(q.order) >= q.max {
		return false
	}
	q.pending[key] = struct{}{}
	q.order = append(q.order, key)
	return true
}

// dequeue removes and returns up to n keys in FIFO order.
func (q *prefetchQueue) dequeue(n int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.order) {
		n = len(q.order)
	}
	keys := q.order[:n]
	q.order = q.order[n:]
	for _, key := range keys {
		delete(q.pending, key)
	}
	return keys
}

func (q *prefetchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// ruleState tracks per-rule cooldown firing times.
type ruleState struct {
	mu        sync.Mutex
	lastFired map[int]time.Time
}

func newRuleState() *ruleState {
	return &ruleState{lastFired: make(map[int]time.Time)}
}

// tryFire reports whether rule i may fire at now, recording the firing time
// when allowed.
func (s *ruleState) tryFire(i int, cooldown time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastFired[i]; ok && cooldown > 0 && now.Sub(last) < cooldown {
		return false
	}
	s.lastFired[i] = now
	return true
}
