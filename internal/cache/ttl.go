package cache

import "time"

// TTL table for cached search responses, keyed on result-set size. Broad
// result sets indicate popular queries worth keeping longer; near-empty
// sets are low-confidence and expire quickly so a better answer can land.
// Heuristic thresholds, tunable without touching control flow.
const (
	TTLPopular = 6 * time.Hour
	TTLDefault = 1 * time.Hour
	TTLNarrow  = 30 * time.Minute

	popularThreshold = 5 // more than this many results → TTLPopular
	narrowThreshold  = 2 // this many or fewer → TTLNarrow
)

// TTLForResultCount picks the cache lifetime for a response with n results.
func TTLForResultCount(n int) time.Duration {
	switch {
	case n > popularThreshold:
		return TTLPopular
	case n <= narrowThreshold:
		return TTLNarrow
	default:
		return TTLDefault
	}
}
