package query

import (
	"strings"
	"testing"
)

func TestSignature_Key_FilterOrderInsensitive(t *testing.T) {
	a := Signature{
		Table:     "estimates",
		Operation: OpSelect,
		Filters:   map[string]string{"status": "active", "userId": "u1"},
	}
	b := Signature{
		Table:     "estimates",
		Operation: OpSelect,
		Filters:   map[string]string{"userId": "u1", "status": "active"},
	}

	if a.Key() != b.Key() {
		t.Errorf("Keys differ for identical filters:\n  %s\n  %s", a.Key(), b.Key())
	}
}

func TestSignature_Key_ListOrderInsensitive(t *testing.T) {
	a := Signature{
		Table:     "estimates",
		Operation: OpSelect,
		Columns:   []string{"id", "total", "status"},
		OrderBy:   []string{"created_at", "id"},
	}
	b := Signature{
		Table:     "estimates",
		Operation: OpSelect,
		Columns:   []string{"status", "id", "total"},
		OrderBy:   []string{"id", "created_at"},
	}

	if a.Key() != b.Key() {
		t.Errorf("Keys differ for reordered columns/order-by:\n  %s\n  %s", a.Key(), b.Key())
	}
}

func TestSignature_Key_Discriminates(t *testing.T) {
	base := Signature{
		Table:     "estimates",
		Operation: OpSelect,
		Filters:   map[string]string{"status": "active"},
		Limit:     10,
	}

	tests := []struct {
		name  string
		other Signature
	}{
		{
			name:  "different_filter_value",
			other: Signature{Table: "estimates", Operation: OpSelect, Filters: map[string]string{"status": "draft"}, Limit: 10},
		},
		{
			name:  "different_table",
			other: Signature{Table: "projects", Operation: OpSelect, Filters: map[string]string{"status": "active"}, Limit: 10},
		},
		{
			name:  "different_operation",
			other: Signature{Table: "estimates", Operation: OpRPC, Filters: map[string]string{"status": "active"}, Limit: 10},
		},
		{
			name:  "different_limit",
			other: Signature{Table: "estimates", Operation: OpSelect, Filters: map[string]string{"status": "active"}, Limit: 20},
		},
		{
			name:  "offset_vs_limit",
			other: Signature{Table: "estimates", Operation: OpSelect, Filters: map[string]string{"status": "active"}, Offset: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if base.Key() == tt.other.Key() {
				t.Errorf("Keys collide: %s", base.Key())
			}
		})
	}
}

func TestSignature_Key_Format(t *testing.T) {
	sig := Signature{Table: "estimates", Operation: OpSelect}
	key := sig.Key()

	if !strings.HasPrefix(key, "query:estimates:select:") {
		t.Errorf("Key = %q, want query:estimates:select: prefix", key)
	}

	// The hash segment is fixed-width hex, so keys are stable across runs.
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		t.Fatalf("Key has %d segments, want 4: %q", len(parts), key)
	}
	if len(parts[3]) != 16 {
		t.Errorf("Hash segment %q has length %d, want 16", parts[3], len(parts[3]))
	}
}

func TestDependencies_Affected(t *testing.T) {
	deps := DefaultDependencies()

	tests := []struct {
		table string
		want  []string
	}{
		{"projects", []string{"projects", "estimates", "reports"}},
		{"catalog", []string{"catalog", "estimate_items"}},
		{"unknown_table", []string{"unknown_table"}},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			got := deps.Affected(tt.table)
			if len(got) != len(tt.want) {
				t.Fatalf("Affected(%q) = %v, want %v", tt.table, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Affected(%q) = %v, want %v", tt.table, got, tt.want)
					break
				}
			}
		})
	}
}

func TestDependencies_Affected_Dedup(t *testing.T) {
	deps := Dependencies{"a": {"b", "b", "a"}}

	got := deps.Affected("a")
	if len(got) != 2 {
		t.Errorf("Affected = %v, want [a b]", got)
	}
}
