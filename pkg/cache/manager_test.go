package cache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quoteflow/cachekit/internal/testutil"
	"github.com/quoteflow/cachekit/pkg/store"
)

// setupTestStore creates a store client with an unreachable remote so all
// operations use the in-process fallback. This keeps unit tests hermetic;
// integration tests exercise the real Redis path.
func setupTestStore(t *testing.T) *store.Client {
	t.Helper()

	client := store.NewClient(store.Config{
		Addr:           "127.0.0.1:1",
		DialTimeout:    50 * time.Millisecond,
		CommandTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func setupManager(t *testing.T, opts Options) (*Manager, *testutil.Clock) {
	t.Helper()

	clock := testutil.NewClock()
	if opts.Store == nil {
		opts.Store = setupTestStore(t)
	}
	if opts.Now == nil {
		opts.Now = clock.Now
	}

	manager, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager, clock
}

func TestNewManager_RequiresStore(t *testing.T) {
	_, err := NewManager(Options{})
	if err == nil {
		t.Fatal("NewManager without store should fail")
	}
}

func TestNewManager_RequiresDefaultStrategy(t *testing.T) {
	_, err := NewManager(Options{
		Store: setupTestStore(t),
		Strategies: map[string]Strategy{
			"only": {TTL: time.Minute, Priority: PriorityLow},
		},
	})
	if err == nil {
		t.Fatal("NewManager without a default strategy should fail")
	}
}

func TestNewManager_ValidatesRules(t *testing.T) {
	tests := []struct {
		name string
		rule PrefetchRule
	}{
		{
			name: "probability_out_of_range",
			rule: PrefetchRule{Pattern: "a:*", Probability: 1.5, Dependencies: []string{"b"}},
		},
		{
			name: "empty_pattern",
			rule: PrefetchRule{Probability: 0.5, Dependencies: []string{"b"}},
		},
		{
			name: "no_dependencies",
			rule: PrefetchRule{Pattern: "a:*", Probability: 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(Options{
				Store: setupTestStore(t),
				Rules: []PrefetchRule{tt.rule},
			})
			if err == nil {
				t.Error("NewManager with invalid rule should fail")
			}
		})
	}
}

func TestManager_SetAndGet(t *testing.T) {
	manager, _ := setupManager(t, Options{})
	ctx := context.Background()

	payload := []byte(`{"estimate":"e1","total":1200}`)
	if err := manager.Set(ctx, "app:estimates:e1:summary", payload, SetOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := manager.Get(ctx, "app:estimates:e1:summary", GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Get = %s, want %s", got, payload)
	}
}

// Concurrent readers and writers on one key exercise the tier copies: no
// Entry is shared between tiers, callers, and the store serializer, so
// hit-count updates never race with a marshal or another tier's lock.
func TestManager_ConcurrentGetSet(t *testing.T) {
	manager, _ := setupManager(t, Options{Now: time.Now})
	ctx := context.Background()
	key := "app:estimates:e1:summary"
	payload := []byte(`{"total":1200}`)

	if err := manager.Set(ctx, key, payload, SetOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				manager.Set(ctx, key, payload, SetOptions{})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				got, err := manager.Get(ctx, key, GetOptions{})
				if err == nil && !bytes.Equal(got, payload) {
					t.Errorf("Get = %s, want %s", got, payload)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestManager_Get_UnknownStrategy(t *testing.T) {
	manager, _ := setupManager(t, Options{})

	_, err := manager.Get(context.Background(), "k", GetOptions{Strategy: "nope"})
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("Expected ErrUnknownStrategy, got %v", err)
	}
}

func TestManager_Set_UnknownStrategy(t *testing.T) {
	manager, _ := setupManager(t, Options{})

	err := manager.Set(context.Background(), "k", []byte("v"), SetOptions{Strategy: "nope"})
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("Expected ErrUnknownStrategy, got %v", err)
	}
}

func TestManager_BypassCache(t *testing.T) {
	manager, _ := setupManager(t, Options{})
	ctx := context.Background()

	manager.Set(ctx, "k", []byte("v"), SetOptions{})

	_, err := manager.Get(ctx, "k", GetOptions{BypassCache: true})
	if err != ErrCacheMiss {
		t.Errorf("Bypass get should miss, got %v", err)
	}
}

// A bypass is a forced refresh, not a genuine miss: it must not feed the
// prefetch predictor.
func TestManager_BypassDoesNotTriggerPrefetch(t *testing.T) {
	manager, _ := setupManager(t, Options{
		Rules: []PrefetchRule{{
			Pattern:      "app:estimates:*",
			Probability:  1,
			Dependencies: []string{"materials"},
		}},
		Rand: func() float64 { return 0 },
	})
	ctx := context.Background()

	manager.Get(ctx, "app:estimates:e1:summary", GetOptions{BypassCache: true})
	if got := manager.queue.len(); got != 0 {
		t.Errorf("Queue length after bypass = %d, want 0", got)
	}

	// A genuine miss on the same key does predict.
	manager.Get(ctx, "app:estimates:e1:summary", GetOptions{})
	if got := manager.queue.len(); got != 1 {
		t.Errorf("Queue length after genuine miss = %d, want 1", got)
	}
}

// TTL expiry: retrievable just before expiry, a counted miss just after.
func TestManager_TTLExpiry(t *testing.T) {
	manager, clock := setupManager(t, Options{
		Strategies: map[string]Strategy{
			DefaultStrategyName: {
				TTL:                time.Second,
				Priority:           PriorityMedium,
				CompressionEnabled: true,
			},
		},
	})
	ctx := context.Background()

	big := []byte(`{"big":"` + strings.Repeat("x", 2000) + `"}`)
	if err := manager.Set(ctx, "app:estimates:e1:doc", big, SetOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Payload above threshold under a compressing strategy is stored
	// compressed.
	entry, ok := manager.l1.peek("app:estimates:e1:doc", clock.Now())
	if !ok {
		t.Fatal("Entry missing from L1")
	}
	if !entry.Metadata.Compressed {
		t.Error("Large repetitive payload should be stored compressed")
	}

	clock.Advance(900 * time.Millisecond)
	got, err := manager.Get(ctx, "app:estimates:e1:doc", GetOptions{})
	if err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Error("Get should return the original payload")
	}

	missesBefore := manager.misses(t)
	clock.Advance(200 * time.Millisecond)

	if _, err := manager.Get(ctx, "app:estimates:e1:doc", GetOptions{}); err != ErrCacheMiss {
		t.Errorf("Get after expiry = %v, want ErrCacheMiss", err)
	}
	if got := manager.misses(t); got != missesBefore+1 {
		t.Errorf("Miss count = %d, want %d", got, missesBefore+1)
	}
}

// misses reads the miss counter for assertions.
func (m *Manager) misses(t *testing.T) uint64 {
	t.Helper()
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats.misses
}

func TestManager_PromotionFromStore(t *testing.T) {
	storeClient := setupTestStore(t)
	manager, clock := setupManager(t, Options{Store: storeClient})
	ctx := context.Background()

	// Seed L2 directly, bypassing L1.
	entry := &Entry{
		Key:  "app:projects:p1:summary",
		Data: []byte("from-store"),
		Metadata: Metadata{
			Size:      10,
			Timestamp: clock.Now(),
			TTL:       time.Minute,
			Strategy:  DefaultStrategyName,
		},
	}
	storeClient.SetJSON(ctx, entry.Key, entry, time.Minute)

	got, err := manager.Get(ctx, entry.Key, GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "from-store" {
		t.Errorf("Get = %s, want from-store", got)
	}

	// Hit must have been promoted into L1.
	if _, ok := manager.l1.peek(entry.Key, clock.Now()); !ok {
		t.Error("Store hit should be promoted to L1")
	}
}

func TestManager_EdgeTier(t *testing.T) {
	manager, clock := setupManager(t, Options{
		Strategies: map[string]Strategy{
			DefaultStrategyName: {TTL: time.Minute, Priority: PriorityMedium},
			"static": {
				TTL:         time.Hour,
				Priority:    PriorityLow,
				EdgeCaching: true,
			},
		},
	})
	ctx := context.Background()

	manager.Set(ctx, "app:catalog:c1:items", []byte("v"), SetOptions{Strategy: "static"})

	if _, ok := manager.edge.peek("app:catalog:c1:items", clock.Now()); !ok {
		t.Error("Edge-caching strategy should write through to the edge tier")
	}

	// Evict from L1 only; the next Get must hit the edge and re-promote.
	manager.l1.delete("app:catalog:c1:items")

	if _, err := manager.Get(ctx, "app:catalog:c1:items", GetOptions{Strategy: "static"}); err != nil {
		t.Fatalf("Get via edge failed: %v", err)
	}
	if _, ok := manager.l1.peek("app:catalog:c1:items", clock.Now()); !ok {
		t.Error("Edge hit should be promoted to L1")
	}
}

func TestManager_EdgeSkippedWithoutStrategyFlag(t *testing.T) {
	manager, clock := setupManager(t, Options{})
	ctx := context.Background()

	manager.Set(ctx, "k", []byte("v"), SetOptions{})

	if _, ok := manager.edge.peek("k", clock.Now()); ok {
		t.Error("Default strategy should not write to the edge tier")
	}
}

// Tag invalidation completeness: all keys sharing the tag are gone, an
// unrelated key survives.
func TestManager_InvalidateByTags(t *testing.T) {
	manager, _ := setupManager(t, Options{})
	ctx := context.Background()

	manager.Set(ctx, "k1", []byte("v1"), SetOptions{Tags: []string{"estimates"}})
	manager.Set(ctx, "k2", []byte("v2"), SetOptions{Tags: []string{"estimates", "reports"}})
	manager.Set(ctx, "k3", []byte("v3"), SetOptions{Tags: []string{"catalog"}})

	count := manager.InvalidateByTags(ctx, []string{"estimates"})
	if count != 2 {
		t.Errorf("InvalidateByTags = %d, want 2", count)
	}

	if _, err := manager.Get(ctx, "k1", GetOptions{}); err != ErrCacheMiss {
		t.Error("k1 should be invalidated")
	}
	if _, err := manager.Get(ctx, "k2", GetOptions{}); err != ErrCacheMiss {
		t.Error("k2 should be invalidated")
	}
	if _, err := manager.Get(ctx, "k3", GetOptions{}); err != nil {
		t.Error("k3 should survive invalidation")
	}
}

// Pressure eviction prefers never-accessed entries over recently hit ones.
func TestManager_PressureEvictionFavorsHitCount(t *testing.T) {
	manager, _ := setupManager(t, Options{L1MaxEntries: 20})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		key := "app:item:" + string(rune('a'+i)) + ":v"
		manager.Set(ctx, key, []byte("v"), SetOptions{})
	}

	// Raise the hit count of one entry just before the insertion surge.
	hot := "app:item:a:v"
	for i := 0; i < 5; i++ {
		if _, err := manager.Get(ctx, hot, GetOptions{}); err != nil {
			t.Fatalf("Get hot key failed: %v", err)
		}
	}

	// Push past capacity.
	for i := 0; i < 5; i++ {
		key := "app:overflow:" + string(rune('a'+i)) + ":v"
		manager.Set(ctx, key, []byte("v"), SetOptions{})
	}

	if _, ok := manager.l1.peek(hot, manager.now()); !ok {
		t.Error("Recently accessed key should survive pressure eviction")
	}
	if manager.l1.len() > 20 {
		t.Errorf("L1 size = %d, want <= 20", manager.l1.len())
	}
}

func TestManager_Delete(t *testing.T) {
	manager, _ := setupManager(t, Options{})
	ctx := context.Background()

	manager.Set(ctx, "k", []byte("v"), SetOptions{})

	if !manager.Delete(ctx, "k") {
		t.Error("Delete should report true for existing key")
	}
	if _, err := manager.Get(ctx, "k", GetOptions{}); err != ErrCacheMiss {
		t.Error("Deleted key should miss")
	}
}

func TestManager_WarmCache(t *testing.T) {
	loaded := make(map[string]int)
	manager, _ := setupManager(t, Options{
		Loader: func(_ context.Context, key string) ([]byte, error) {
			loaded[key]++
			if strings.HasPrefix(key, "bad:") {
				return nil, errors.New("no such row")
			}
			return []byte("warm:" + key), nil
		},
		WarmDelay: time.Millisecond,
	})
	ctx := context.Background()

	keys := make([]string, 0, 25)
	for i := 0; i < 24; i++ {
		keys = append(keys, "warm:key:"+string(rune('a'+i)))
	}
	keys = append(keys, "bad:key:z")

	result, err := manager.WarmCache(ctx, keys, "")
	if err != nil {
		t.Fatalf("WarmCache failed: %v", err)
	}
	if result.Succeeded != 24 {
		t.Errorf("Succeeded = %d, want 24", result.Succeeded)
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}

	got, err := manager.Get(ctx, "warm:key:a", GetOptions{})
	if err != nil {
		t.Fatalf("Get warmed key failed: %v", err)
	}
	if string(got) != "warm:warm:key:a" {
		t.Errorf("Warmed value = %s", got)
	}
}

func TestManager_WarmCache_RequiresLoader(t *testing.T) {
	manager, _ := setupManager(t, Options{})

	if _, err := manager.WarmCache(context.Background(), []string{"k"}, ""); err == nil {
		t.Error("WarmCache without loader should fail")
	}
}

func TestManager_GetAnalytics(t *testing.T) {
	manager, _ := setupManager(t, Options{})
	ctx := context.Background()

	manager.Set(ctx, "app:estimates:e1:summary", []byte("v"), SetOptions{})
	manager.Get(ctx, "app:estimates:e1:summary", GetOptions{})
	manager.Get(ctx, "app:estimates:e2:summary", GetOptions{})

	analytics := manager.GetAnalytics()
	if analytics.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", analytics.HitRate)
	}
	if len(analytics.TopPatterns) == 0 {
		t.Fatal("TopPatterns should not be empty")
	}
	if analytics.TopPatterns[0].Pattern != "app:estimates" {
		t.Errorf("Top pattern = %q, want app:estimates", analytics.TopPatterns[0].Pattern)
	}
}

func TestManager_StartAndClose(t *testing.T) {
	manager, _ := setupManager(t, Options{
		PrefetchInterval: 10 * time.Millisecond,
		CleanupInterval:  10 * time.Millisecond,
		MetricsInterval:  10 * time.Millisecond,
	})

	manager.Start()
	time.Sleep(30 * time.Millisecond)
	manager.Close()
	// Close is idempotent.
	manager.Close()
}

func TestManager_PrefetchWorkerLoads(t *testing.T) {
	storeClient := setupTestStore(t)
	manager, _ := setupManager(t, Options{
		Store: storeClient,
		Loader: func(_ context.Context, key string) ([]byte, error) {
			return []byte("loaded:" + key), nil
		},
		Rules: []PrefetchRule{{
			Pattern:      "app:estimates:*",
			Probability:  1,
			Dependencies: []string{"materials"},
		}},
		Rand:             func() float64 { return 0 },
		Now:              time.Now,
		PrefetchInterval: 5 * time.Millisecond,
	})

	manager.Start()
	defer manager.Close()

	ctx := context.Background()

	// Miss triggers a prediction for app:estimates:materials:summary.
	manager.Get(ctx, "app:estimates:e1:summary", GetOptions{})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := manager.Get(ctx, "app:estimates:materials:summary", GetOptions{DisablePrefetch: true})
		if err == nil {
			if string(got) != "loaded:app:estimates:materials:summary" {
				t.Errorf("Prefetched value = %s", got)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Prefetch worker did not populate the predicted key in time")
}
