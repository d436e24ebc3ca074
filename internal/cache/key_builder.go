package cache

import (
	"fmt"
	"strings"
)

// Key is the structured form of a search cache key.
type Key struct {
	NormalizedQuery string
	OptionsHash     string
}

// String converts the structured key into the final string used in
// Redis/map lookups: search:<normalizedQuery>:<optionsHash>.
func (k Key) String() string {
	return fmt.Sprintf("search:%s:%s", k.NormalizedQuery, k.OptionsHash)
}

// BuildKey derives the cache key for a (query, options) pair. Pure function:
// equal inputs always yield an identical key, and any two raw queries that
// normalize the same share one key by design.
func BuildKey(query string, opts map[string]string) Key {
	return Key{
		NormalizedQuery: NormalizeQuery(query),
		OptionsHash:     HashOptions(opts),
	}
}

// ParseKey splits a key string back into its parts. Returns false for keys
// that are not in the search:<query>:<hash> format (raw-body and token keys
// share the same store).
func ParseKey(key string) (Key, bool) {
	rest, ok := strings.CutPrefix(key, "search:")
	if !ok {
		return Key{}, false
	}
	// The normalized query may contain spaces but never colons; the hash
	// never contains either, so the last colon is the separator.
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return Key{}, false
	}
	return Key{NormalizedQuery: rest[:i], OptionsHash: rest[i+1:]}, true
}
