package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"searchcache-gateway/internal/cache"
)

// fakeProvider serves both the token endpoint and the search endpoint from
// one httptest server, the way the real provider splits www/oauth hosts.
type fakeProvider struct {
	t            *testing.T
	searchStatus int
	searchBody   string

	tokenCalls  atomic.Int64
	searchCalls atomic.Int64

	lastSearchPath  string
	lastSearchQuery url.Values
	lastBearer      string
	lastUserAgent   string
}

func (f *fakeProvider) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/access_token" {
			f.tokenCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "search-tok",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
			return
		}

		f.searchCalls.Add(1)
		f.lastSearchPath = r.URL.Path
		f.lastSearchQuery = r.URL.Query()
		f.lastBearer = r.Header.Get("Authorization")
		f.lastUserAgent = r.UserAgent()

		if f.searchStatus != 0 && f.searchStatus != http.StatusOK {
			http.Error(w, f.searchBody, f.searchStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.searchBody))
	})
}

const listingFixture = `{
	"kind": "Listing",
	"data": {
		"after": null,
		"children": [
			{
				"kind": "t3",
				"data": {
					"id": "abc1",
					"title": "Best budget laptop thread",
					"selftext": "Looking for recommendations under $800",
					"url": "https://example.com/article",
					"permalink": "/r/laptops/comments/abc1/best_budget_laptop_thread/",
					"score": 417,
					"subreddit": "laptops",
					"author": "techfan",
					"created_utc": 1710000000.0,
					"num_comments": 52
				}
			},
			{
				"kind": "t1",
				"data": {
					"id": "cmt1",
					"body": "comments are skipped",
					"score": 3
				}
			},
			{
				"kind": "t3",
				"data": {
					"id": "abc2",
					"title": "Laptop buying guide 2024",
					"selftext": "",
					"url": "https://example.com/guide",
					"permalink": "",
					"score": 88,
					"subreddit": "SuggestALaptop",
					"author": "guidebot",
					"created_utc": 1710000500.0,
					"num_comments": 9
				}
			}
		]
	}
}`

func newTestClient(t *testing.T, f *fakeProvider, store cache.Store) Client {
	t.Helper()

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		ClientID:     "test-id",
		ClientSecret: "test-secret",
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/api/v1/access_token",
		UserAgent:    "gateway-test/1.0",
		HTTPClient:   srv.Client(),
	}, store, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSearchMapsListing(t *testing.T) {
	f := &fakeProvider{t: t, searchBody: listingFixture}
	c := newTestClient(t, f, nil)

	results, err := c.Search(context.Background(), "best laptop", SearchOptions{Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 link posts (t1 skipped), got %d", len(results))
	}

	first := results[0]
	if first.Title != "Best budget laptop thread" {
		t.Fatalf("unexpected title: %s", first.Title)
	}
	if first.URL != "https://www.reddit.com/r/laptops/comments/abc1/best_budget_laptop_thread/" {
		t.Fatalf("permalink not resolved to absolute URL: %s", first.URL)
	}
	if first.Score != 417 || first.Subreddit != "laptops" || first.Author != "techfan" {
		t.Fatalf("unexpected result fields: %#v", first)
	}
	if first.CreatedUTC != 1710000000 {
		t.Fatalf("unexpected created timestamp: %d", first.CreatedUTC)
	}

	// Without a permalink the provider URL is kept as-is.
	if results[1].URL != "https://example.com/guide" {
		t.Fatalf("expected provider URL fallback, got %s", results[1].URL)
	}

	if f.lastBearer != "Bearer search-tok" {
		t.Fatalf("unexpected Authorization header: %s", f.lastBearer)
	}
	if f.lastUserAgent != "gateway-test/1.0" {
		t.Fatalf("unexpected User-Agent: %s", f.lastUserAgent)
	}
}

func TestSearchClampsLimit(t *testing.T) {
	f := &fakeProvider{t: t, searchBody: listingFixture}
	c := newTestClient(t, f, nil)

	if _, err := c.Search(context.Background(), "anything", SearchOptions{Limit: 1000}); err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got := f.lastSearchQuery.Get("limit"); got != "25" {
		t.Fatalf("upstream asked for %s results, want 25", got)
	}
}

func TestSearchSubredditScoping(t *testing.T) {
	f := &fakeProvider{t: t, searchBody: listingFixture}
	c := newTestClient(t, f, nil)

	_, err := c.Search(context.Background(), "deals", SearchOptions{
		Subreddits: []string{"laptops", "SuggestALaptop"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if f.lastSearchPath != "/r/laptops+SuggestALaptop/search" {
		t.Fatalf("unexpected search path: %s", f.lastSearchPath)
	}
	if f.lastSearchQuery.Get("restrict_sr") != "on" {
		t.Fatalf("expected restrict_sr=on")
	}
}

func TestSearchErrorCategories(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusBadGateway, ErrUpstream},
	}

	for _, tc := range cases {
		f := &fakeProvider{t: t, searchStatus: tc.status, searchBody: "provider internals leaked here"}
		c := newTestClient(t, f, nil)

		_, err := c.Search(context.Background(), "anything", SearchOptions{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestSearchRawBodyCache(t *testing.T) {
	f := &fakeProvider{t: t, searchBody: listingFixture}

	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	c := newTestClient(t, f, store)

	ctx := context.Background()
	opts := SearchOptions{Limit: 10}

	first, err := c.Search(ctx, "best laptop", opts)
	if err != nil {
		t.Fatalf("first search: %v", err)
	}

	// Identical query+options within the raw TTL must be absorbed by the
	// raw response cache without a second upstream round trip.
	second, err := c.Search(ctx, "best laptop", opts)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}

	if got := f.searchCalls.Load(); got != 1 {
		t.Fatalf("expected one upstream search, got %d", got)
	}
	if len(first) != len(second) {
		t.Fatalf("raw-cache results diverged: %d vs %d", len(first), len(second))
	}
}
