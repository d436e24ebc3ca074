package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"searchcache-gateway/internal/cache"
	"searchcache-gateway/internal/upstream"
)

type mockUpstream struct {
	results  []upstream.SearchResult
	err      error
	calls    int
	lastQ    string
	lastOpts upstream.SearchOptions
}

func (m *mockUpstream) Search(_ context.Context, query string, opts upstream.SearchOptions) ([]upstream.SearchResult, error) {
	m.calls++
	m.lastQ = query
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	opts.Normalize()
	if len(m.results) > opts.Limit {
		return m.results[:opts.Limit], nil
	}
	return m.results, nil
}

func sampleResults(n int) []upstream.SearchResult {
	results := make([]upstream.SearchResult, n)
	for i := range results {
		results[i] = upstream.SearchResult{
			Title:      fmt.Sprintf("result %d", i),
			URL:        fmt.Sprintf("https://www.reddit.com/r/test/comments/%d/", i),
			Score:      100 - i,
			Subreddit:  "test",
			Author:     "author",
			CreatedUTC: 1710000000 + int64(i),
		}
	}
	return results
}

func postSearch(t *testing.T, h *SearchHandler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	h.Search(rr, req)
	return rr
}

func TestSearchMissThenHit(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	mock := &mockUpstream{results: sampleResults(3)}
	h := NewSearchHandler(store, mock)

	body := `{"query":"best laptop 2024","options":{"limit":5}}`

	// Empty cache: miss, upstream consulted.
	rr := postSearch(t, h, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Cache-Status"); got != "MISS" {
		t.Fatalf("expected X-Cache-Status MISS, got %q", got)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Fatalf("unexpected Cache-Control: %q", cc)
	}
	if rr.Header().Get("X-Processing-Time") == "" {
		t.Fatalf("missing X-Processing-Time header")
	}

	var miss searchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &miss); err != nil {
		t.Fatalf("decode miss response: %v", err)
	}
	if miss.Cached {
		t.Fatalf("first request should not be cached")
	}
	if miss.TotalResults > 5 {
		t.Fatalf("totalResults %d exceeds requested limit", miss.TotalResults)
	}
	if mock.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", mock.calls)
	}

	// Identical request immediately after: served from cache.
	rr = postSearch(t, h, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Fatalf("expected X-Cache-Status HIT, got %q", got)
	}

	var hit searchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &hit); err != nil {
		t.Fatalf("decode hit response: %v", err)
	}
	if !hit.Cached {
		t.Fatalf("repeat request should be cached")
	}
	if mock.calls != 1 {
		t.Fatalf("cache hit must not touch upstream, calls=%d", mock.calls)
	}

	missJSON, _ := json.Marshal(miss.Results)
	hitJSON, _ := json.Marshal(hit.Results)
	if !bytes.Equal(missJSON, hitJSON) {
		t.Fatalf("hit results differ from original miss results")
	}
}

func TestSearchNormalizedVariantsShareEntry(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	mock := &mockUpstream{results: sampleResults(4)}
	h := NewSearchHandler(store, mock)

	if rr := postSearch(t, h, `{"query":"best pizza"}`); rr.Code != http.StatusOK {
		t.Fatalf("seed request failed: %d", rr.Code)
	}

	// Different surface form, same normalized key: must be a hit.
	rr := postSearch(t, h, `{"query":"What is the BEST pizza?"}`)
	if got := rr.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Fatalf("expected variant to hit shared cache entry, got %q", got)
	}
	if mock.calls != 1 {
		t.Fatalf("expected one upstream call across variants, got %d", mock.calls)
	}
}

func TestSearchValidation(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	h := NewSearchHandler(store, &mockUpstream{})

	cases := []struct {
		name string
		body string
	}{
		{"empty query", `{"query":""}`},
		{"whitespace query", `{"query":"   "}`},
		{"missing query", `{}`},
		{"overlong query", fmt.Sprintf(`{"query":%q}`, strings.Repeat("a", 501))},
		{"script injection", `{"query":"<script>alert(1)</script>"}`},
		{"not json", `{"query":`},
	}

	for _, tc := range cases {
		rr := postSearch(t, h, tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rr.Code)
		}

		var resp errorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode error response: %v", tc.name, err)
		}
		if resp.Message == "" {
			t.Fatalf("%s: validation error must carry a message", tc.name)
		}
	}
}

func TestSearchLimitClamped(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	mock := &mockUpstream{results: sampleResults(30)}
	h := NewSearchHandler(store, mock)

	rr := postSearch(t, h, `{"query":"big limit","options":{"limit":1000}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if mock.lastOpts.Limit != upstream.MaxLimit {
		t.Fatalf("upstream asked for %d results, want %d", mock.lastOpts.Limit, upstream.MaxLimit)
	}
}

func TestSearchUpstreamRateLimited(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	providerText := "upstream status 429: you have been rate limited, slow down"
	mock := &mockUpstream{err: fmt.Errorf("%w: %s", upstream.ErrRateLimited, providerText)}
	h := NewSearchHandler(store, mock)

	rr := postSearch(t, h, `{"query":"anything"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Cache-Status"); got != "ERROR" {
		t.Fatalf("expected X-Cache-Status ERROR, got %q", got)
	}

	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if !strings.Contains(resp.Message, "temporarily unavailable") {
		t.Fatalf("rate-limit message should say temporarily unavailable, got %q", resp.Message)
	}
	if strings.Contains(rr.Body.String(), "slow down") {
		t.Fatalf("raw provider error text leaked to the caller: %s", rr.Body.String())
	}
	if resp.CacheStatus != "ERROR" {
		t.Fatalf("expected cache_status ERROR in body, got %q", resp.CacheStatus)
	}
}

func TestSearchCacheBackendFailsOpen(t *testing.T) {
	mock := &mockUpstream{results: sampleResults(2)}
	h := NewSearchHandler(brokenStore{}, mock)

	// A broken cache backend degrades to a miss, never a 5xx.
	rr := postSearch(t, h, `{"query":"resilient"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 despite cache failure, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Cache-Status"); got != "MISS" {
		t.Fatalf("expected MISS, got %q", got)
	}
	if mock.calls != 1 {
		t.Fatalf("expected upstream fallback, calls=%d", mock.calls)
	}
}

func TestSearchDebugEndpoint(t *testing.T) {
	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	mock := &mockUpstream{results: sampleResults(3)}
	h := NewSearchHandler(store, mock)

	req := httptest.NewRequest(http.MethodGet, "/?q=best+pizza&limit=2", nil)
	rr := httptest.NewRecorder()
	h.SearchDebug(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if mock.lastQ != "best pizza" {
		t.Fatalf("unexpected query: %q", mock.lastQ)
	}
	if mock.lastOpts.Limit != 2 {
		t.Fatalf("expected limit 2, got %d", mock.lastOpts.Limit)
	}
}

// brokenStore fails every operation, exercising the fail-open contract.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache backend unavailable")
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache backend unavailable")
}
