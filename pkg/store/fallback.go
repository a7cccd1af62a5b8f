package store

import (
	"path"
	"strconv"
	"sync"
	"time"
)

// fallbackStore is the in-process stand-in used while the remote store is
// unreachable. It mirrors the remote TTL semantics: expiry is checked lazily
// on read and stale entries are purged on access.
type fallbackStore struct {
	mu      sync.Mutex
	entries map[string]fallbackEntry
}

type fallbackEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e fallbackEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func newFallbackStore() *fallbackStore {
	return &fallbackStore{entries: make(map[string]fallbackEntry)}
}

func (f *fallbackStore) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok {
		return "", false
	}
	if entry.expired(time.Now()) {
		delete(f.entries, key)
		return "", false
	}
	return entry.value, true
}

func (f *fallbackStore) set(key, value string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry := fallbackEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	f.entries[key] = entry
}

func (f *fallbackStore) delete(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.entries[key]
	delete(f.entries, key)
	return ok
}

func (f *fallbackStore) expire(key string, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok || entry.expired(time.Now()) {
		delete(f.entries, key)
		return false
	}
	entry.expiresAt = time.Now().Add(ttl)
	f.entries[key] = entry
	return true
}

func (f *fallbackStore) incr(key string, ttl time.Duration) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	entry, ok := f.entries[key]
	if ok && entry.expired(now) {
		ok = false
	}

	var n int64
	if ok {
		n, _ = strconv.ParseInt(entry.value, 10, 64)
	}
	n++

	next := fallbackEntry{value: strconv.FormatInt(n, 10), expiresAt: entry.expiresAt}
	if !ok && ttl > 0 {
		next.expiresAt = now.Add(ttl)
	}
	f.entries[key] = next
	return n
}

func (f *fallbackStore) deleteByPattern(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	count := 0
	for key, entry := range f.entries {
		if entry.expired(now) {
			delete(f.entries, key)
			continue
		}
		if matched, err := path.Match(pattern, key); err == nil && matched {
			delete(f.entries, key)
			count++
		}
	}
	return count
}

func (f *fallbackStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
