package query

import "errors"

// ErrQuotaExceeded is returned by Storage implementations when a write
// exceeds the available quota. The cache responds with an eviction-and-retry
// cycle; a write that still fails is silently dropped.
var ErrQuotaExceeded = errors.New("query: storage quota exceeded")

// Storage is a synchronous string-only key/value store, the shape of
// session-scoped and persistent browser storage. Implementations are not
// required to be safe for concurrent use; the cache serializes access.
type Storage interface {
	// Get returns the stored value, or false when absent.
	Get(key string) (string, bool)

	// Set stores a value. Returns ErrQuotaExceeded when out of space.
	Set(key, value string) error

	// Remove deletes a key. Removing an absent key is a no-op.
	Remove(key string)

	// Keys enumerates all stored keys.
	Keys() []string
}
