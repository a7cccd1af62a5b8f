package cache

import (
	"fmt"
	"path"
	"time"
)

// Priority orders strategies for operational visibility. It does not change
// tier selection.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DefaultStrategyName is resolved when an operation names no strategy.
const DefaultStrategyName = "default"

// Strategy is a named caching policy. Strategies are registered at
// construction time and immutable thereafter; every Get/Set resolves to
// exactly one of them.
type Strategy struct {
	// TTL applied to entries unless overridden per call.
	TTL time.Duration

	// Priority classifies the strategy for metrics and logs.
	Priority Priority

	// PrefetchEnabled allows misses under this strategy to trigger
	// prefetch prediction.
	PrefetchEnabled bool

	// EdgeCaching writes entries through to the simulated edge tier.
	EdgeCaching bool

	// CompressionEnabled compresses entry payloads before storage.
	CompressionEnabled bool

	// Tags are attached to every entry cached under this strategy.
	Tags []string
}

func (s Strategy) validate(name string) error {
	if s.TTL <= 0 {
		return fmt.Errorf("strategy %q: ttl must be positive", name)
	}
	switch s.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("strategy %q: unknown priority %q", name, s.Priority)
	}
	return nil
}

// DefaultStrategies returns the strategy set used when none is configured.
func DefaultStrategies() map[string]Strategy {
	return map[string]Strategy{
		DefaultStrategyName: {
			TTL:                5 * time.Minute,
			Priority:           PriorityMedium,
			PrefetchEnabled:    true,
			CompressionEnabled: true,
		},
		"static": {
			TTL:                time.Hour,
			Priority:           PriorityLow,
			EdgeCaching:        true,
			CompressionEnabled: true,
			Tags:               []string{"static"},
		},
		"realtime": {
			TTL:      30 * time.Second,
			Priority: PriorityCritical,
		},
		"session": {
			TTL:             15 * time.Minute,
			Priority:        PriorityHigh,
			PrefetchEnabled: true,
			Tags:            []string{"session"},
		},
	}
}

// PrefetchRule predicts dependent keys likely to be requested after a miss
// on a matching key. Rules are registered at startup and read-only.
type PrefetchRule struct {
	// Pattern is a glob matched against cache keys.
	Pattern string

	// Probability is the per-dependency chance of enqueuing a prediction.
	Probability float64

	// Dependencies are segment names substituted into the matched key to
	// synthesize related keys.
	Dependencies []string

	// Cooldown is the minimum interval between firings of this rule.
	Cooldown time.Duration

	// MaxDepth bounds prediction recursion. Currently advisory.
	MaxDepth int
}

func (r PrefetchRule) validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("prefetch rule: pattern must not be empty")
	}
	if _, err := path.Match(r.Pattern, "probe"); err != nil {
		return fmt.Errorf("prefetch rule %q: invalid pattern: %w", r.Pattern, err)
	}
	if r.Probability < 0 || r.Probability > 1 {
		return fmt.Errorf("prefetch rule %q: probability %v out of range [0,1]", r.Pattern, r.Probability)
	}
	if len(r.Dependencies) == 0 {
		return fmt.Errorf("prefetch rule %q: at least one dependency required", r.Pattern)
	}
	return nil
}

// matches reports whether the rule's glob matches the key.
func (r PrefetchRule) matches(key string) bool {
	matched, err := path.Match(r.Pattern, key)
	return err == nil && matched
}
