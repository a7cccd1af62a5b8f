package cache

import (
	"time"
)

// Entry is the unit of storage across all tiers.
type Entry struct {
	// Key is the cache key.
	Key string `json:"key"`

	// Data is the payload, compressed when Metadata.Compressed is set.
	Data []byte `json:"data"`

	// Metadata describes how and when the entry was cached.
	Metadata Metadata `json:"metadata"`
}

// Metadata carries the bookkeeping attached to every entry.
type Metadata struct {
	// Size is the uncompressed payload size in bytes.
	Size int `json:"size"`

	// Compressed reports whether Data is compressed.
	Compressed bool `json:"compressed"`

	// Timestamp is when the entry was cached.
	Timestamp time.Time `json:"timestamp"`

	// TTL is the entry lifetime from Timestamp.
	TTL time.Duration `json:"ttl"`

	// HitCount is incremented on each successful read.
	HitCount int `json:"hit_count"`

	// Tags enable bulk invalidation independent of key structure.
	Tags []string `json:"tags,omitempty"`

	// Strategy is the name of the strategy the entry was cached under.
	Strategy string `json:"strategy"`

	// Prefetched marks entries populated by the prefetch worker.
	Prefetched bool `json:"prefetched"`
}

// IsExpired reports whether the entry is logically expired at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.Metadata.Timestamp.Add(e.Metadata.TTL))
}

// RemainingTTL returns the time until logical expiry at now.
// Returns 0 when already expired.
func (e *Entry) RemainingTTL(now time.Time) time.Duration {
	remaining := e.Metadata.Timestamp.Add(e.Metadata.TTL).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// hasTag reports whether the entry carries any of the given tags.
func (e *Entry) hasTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range e.Metadata.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}
