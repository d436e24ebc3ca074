package upstream

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultLimit     = 10
	MaxLimit         = 25
	DefaultSort      = "relevance"
	DefaultTimeframe = "all"
)

// SearchOptions are the secondary search parameters. Treated as an
// unordered property bag for cache-key purposes: two option sets with the
// same values fingerprint identically regardless of construction order.
type SearchOptions struct {
	Limit      int      `json:"limit,omitempty"`
	Sort       string   `json:"sort,omitempty"`
	Timeframe  string   `json:"timeframe,omitempty"`
	Subreddits []string `json:"subreddits,omitempty"`
}

// Normalize applies defaults and clamps the limit to [1, MaxLimit].
func (o *SearchOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Sort == "" {
		o.Sort = DefaultSort
	}
	if o.Timeframe == "" {
		o.Timeframe = DefaultTimeframe
	}
}

// Fingerprint renders the options as a flat key/value map for hashing.
// Subreddits are sorted before joining so list order does not change the
// fingerprint.
func (o SearchOptions) Fingerprint() map[string]string {
	m := map[string]string{
		"limit":     strconv.Itoa(o.Limit),
		"sort":      o.Sort,
		"timeframe": o.Timeframe,
	}
	if len(o.Subreddits) > 0 {
		subs := make([]string, len(o.Subreddits))
		copy(subs, o.Subreddits)
		sort.Strings(subs)
		m["subreddits"] = strings.Join(subs, ",")
	}
	return m
}

// SearchResult is the provider-independent result shape the gateway serves.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	Subreddit   string `json:"subreddit"`
	Author      string `json:"author"`
	CreatedUTC  int64  `json:"createdUtc"`
}

// Client fetches fresh results from the upstream search provider.
type Client interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
}
