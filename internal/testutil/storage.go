package testutil

import (
	"sort"
	"sync"

	"github.com/quoteflow/cachekit/pkg/query"
)

// MemStorage is an in-memory query.Storage with an optional byte quota,
// mimicking session and persistent browser storage.
type MemStorage struct {
	mu     sync.Mutex
	items  map[string]string
	quota  int // total bytes of keys+values; 0 means unlimited
	SetErr error

	// Writes counts Set calls, including failed ones.
	Writes int
}

// NewMemStorage creates storage with the given byte quota (0 = unlimited).
func NewMemStorage(quota int) *MemStorage {
	return &MemStorage{
		items: make(map[string]string),
		quota: quota,
	}
}

// Get implements query.Storage.
func (s *MemStorage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.items[key]
	return val, ok
}

// Set implements query.Storage. Returns query.ErrQuotaExceeded when the
// write would push total stored bytes over the quota, or SetErr when
// configured.
func (s *MemStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Writes++
	if s.SetErr != nil {
		return s.SetErr
	}

	if s.quota > 0 {
		used := 0
		for k, v := range s.items {
			if k == key {
				continue
			}
			used += len(k) + len(v)
		}
		if used+len(key)+len(value) > s.quota {
			return query.ErrQuotaExceeded
		}
	}

	s.items[key] = value
	return nil
}

// Remove implements query.Storage.
func (s *MemStorage) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Keys implements query.Storage. Keys are returned sorted for determinism.
func (s *MemStorage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored entries.
func (s *MemStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
