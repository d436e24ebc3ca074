package cache

import (
	"sort"
	"strconv"
	"strings"
)

// HashOptions produces a short deterministic fingerprint of a search-option
// set. Keys are sorted before hashing, so two option sets with the same
// key/value pairs hash identically regardless of construction order.
//
// The digest is a 31-multiplier rolling hash over the canonical string with
// 32-bit wraparound, absolute value, base-36 encoded. The exact algorithm is
// load-bearing: cache keys for live entries were minted with it, so changing
// it orphans every entry currently in the backend.
//
// An empty option set hashes to "default".
func HashOptions(opts map[string]string) string {
	if len(opts) == 0 {
		return "default"
	}

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+opts[k])
	}
	canonical := strings.Join(parts, "|")

	var h int32
	for i := 0; i < len(canonical); i++ {
		h = h*31 + int32(canonical[i])
	}

	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
