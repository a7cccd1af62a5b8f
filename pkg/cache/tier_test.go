package cache

import (
	"testing"
	"time"

	"github.com/quoteflow/cachekit/internal/testutil"
)

func tierEntry(key string, now time.Time) *Entry {
	return &Entry{
		Key:  key,
		Data: []byte("v"),
		Metadata: Metadata{
			Size:      1,
			Timestamp: now,
			TTL:       time.Minute,
			Strategy:  DefaultStrategyName,
		},
	}
}

// The tier stores a private copy on set and hands out snapshots on get, so
// an entry shared by the caller (or another tier) never reflects this
// tier's hit-count mutations.
func TestMemoryTier_EntriesAreNotShared(t *testing.T) {
	clock := testutil.NewClock()
	tier := newMemoryTier(10)

	entry := tierEntry("k", clock.Now())
	tier.set(entry)

	got, ok := tier.get("k", clock.Now())
	if !ok {
		t.Fatal("Entry missing after set")
	}
	if got == entry {
		t.Fatal("get returned the caller's entry instead of a copy")
	}
	if got.Metadata.HitCount != 1 {
		t.Errorf("Snapshot hit count = %d, want 1", got.Metadata.HitCount)
	}
	if entry.Metadata.HitCount != 0 {
		t.Errorf("Caller's entry hit count = %d, want 0", entry.Metadata.HitCount)
	}

	// Later tier activity must not touch an already-returned snapshot.
	tier.get("k", clock.Now())
	if got.Metadata.HitCount != 1 {
		t.Errorf("Snapshot mutated after a later get: hit count = %d", got.Metadata.HitCount)
	}
}

func TestMemoryTier_PromotionKeepsIndependentHitCounts(t *testing.T) {
	clock := testutil.NewClock()
	source := newMemoryTier(10)
	target := newMemoryTier(10)

	source.set(tierEntry("k", clock.Now()))

	promoted, ok := source.get("k", clock.Now())
	if !ok {
		t.Fatal("Entry missing from source tier")
	}
	target.set(promoted)

	target.get("k", clock.Now())
	target.get("k", clock.Now())

	fromSource, _ := source.peek("k", clock.Now())
	fromTarget, _ := target.peek("k", clock.Now())
	if fromSource.Metadata.HitCount != 1 {
		t.Errorf("Source tier hit count = %d, want 1", fromSource.Metadata.HitCount)
	}
	if fromTarget.Metadata.HitCount != 3 {
		t.Errorf("Target tier hit count = %d, want 3", fromTarget.Metadata.HitCount)
	}
}
