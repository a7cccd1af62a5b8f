package query

// Dependencies is the static table dependency graph: mutating a table
// invalidates cached queries against that table and every dependent table.
// Read-only configuration data.
type Dependencies map[string][]string

// DefaultDependencies models the estimation domain: estimates derive from
// projects and catalog data, reports derive from estimates.
func DefaultDependencies() Dependencies {
	return Dependencies{
		"projects":  {"estimates", "reports"},
		"estimates": {"estimate_items", "reports"},
		"catalog":   {"estimate_items"},
		"customers": {"projects", "estimates"},
	}
}

// Affected returns the table itself plus every table that depends on it,
// deduplicated.
func (d Dependencies) Affected(table string) []string {
	seen := map[string]struct{}{table: {}}
	affected := []string{table}

	// One level deep: the graph is flat configuration, not transitive.
	for _, dep := range d[table] {
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		affected = append(affected, dep)
	}
	return affected
}
