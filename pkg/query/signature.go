package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Operation is the kind of database operation a signature describes.
type Operation string

const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpRPC    Operation = "rpc"
)

// Signature is a normalized description of a database query, used to derive
// a stable cache key. Two signatures that differ only in filter key order,
// column order, or order-by order produce the identical key.
type Signature struct {
	Table     string
	Operation Operation
	Filters   map[string]string
	Columns   []string
	OrderBy   []string
	Limit     int
	Offset    int
}

// Key returns the cache key for the signature.
// Format: query:<table>:<operation>:<hash>
func (s Signature) Key() string {
	return fmt.Sprintf("query:%s:%s:%016x", s.Table, s.Operation, s.hash())
}

// hash digests the canonical form of the signature.
func (s Signature) hash() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(s.Table)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(string(s.Operation))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(s.canonicalFilters())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(canonicalList(s.Columns))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(canonicalList(s.OrderBy))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(fmt.Sprintf("%d,%d", s.Limit, s.Offset))
	return h.Sum64()
}

// canonicalFilters renders filters with sorted keys.
func (s Signature) canonicalFilters() string {
	if len(s.Filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(s.Filters))
	for key := range s.Filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+s.Filters[key])
	}
	return strings.Join(parts, "&")
}

// canonicalList sorts a copy of the list so argument order never changes
// the key.
func canonicalList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	sorted := append([]string(nil), list...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
