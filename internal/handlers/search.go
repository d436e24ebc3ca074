package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"searchcache-gateway/internal/cache"
	"searchcache-gateway/internal/upstream"
	"searchcache-gateway/pkg/logging/logging"
)

const maxQueryLen = 500

// Markers that indicate markup/script injection attempts. Matched against
// the lowercased query; any occurrence rejects the request outright.
var injectionMarkers = []string{
	"<script",
	"</script",
	"<iframe",
	"javascript:",
	"onerror=",
	"onload=",
}

// Cache-status values surfaced in the X-Cache-Status header and stored
// inside cached entries.
const (
	cacheStatusHit   = "HIT"
	cacheStatusMiss  = "MISS"
	cacheStatusError = "ERROR"
)

// SearchHandler orchestrates one search request: validate, build the cache
// key, try the cache, fall back to the upstream client, persist, respond.
type SearchHandler struct {
	Cache    cache.Store
	Upstream upstream.Client
}

func NewSearchHandler(store cache.Store, client upstream.Client) *SearchHandler {
	return &SearchHandler{
		Cache:    store,
		Upstream: client,
	}
}

type searchRequest struct {
	Query   string                  `json:"query"`
	Options *upstream.SearchOptions `json:"options"`
}

// searchResponse is the envelope every successful request gets, hit or miss.
type searchResponse struct {
	Results        []upstream.SearchResult `json:"results"`
	Query          string                  `json:"query"`
	TotalResults   int                     `json:"totalResults"`
	ProcessingTime string                  `json:"processingTime"`
	Cached         bool                    `json:"cached"`
}

// cachedEntry is the shape written to the cache store on a miss and read
// back verbatim on a hit.
type cachedEntry struct {
	Results            []upstream.SearchResult `json:"results"`
	Total              int                     `json:"total"`
	CacheStatus        string                  `json:"cacheStatus"`
	Timestamp          string                  `json:"timestamp"`
	NormalizedQueryKey string                  `json:"normalizedQueryKey"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	CacheStatus string `json:"cache_status"`
}

// Search handles POST / with a JSON body {query, options?}.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	logger := logging.L(ctx)

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		h.writeError(w, start, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	var opts upstream.SearchOptions
	if req.Options != nil {
		opts = *req.Options
	}

	h.serve(w, r, req.Query, opts, start)
}

// SearchDebug handles GET /?q=&limit= for quick manual checks. Same
// pipeline as POST, just query-parameter input.
func (h *SearchHandler) SearchDebug(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var opts upstream.SearchOptions
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		if n, err := strconv.Atoi(rawLimit); err == nil {
			opts.Limit = n
		}
	}

	h.serve(w, r, r.URL.Query().Get("q"), opts, start)
}

func (h *SearchHandler) serve(w http.ResponseWriter, r *http.Request, rawQuery string, opts upstream.SearchOptions, start time.Time) {
	ctx := r.Context()
	logger := logging.L(ctx)

	query, err := validateQuery(rawQuery)
	if err != nil {
		logger.Warn("query rejected", zap.Error(err))
		h.writeError(w, start, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	opts.Normalize()

	key := cache.BuildKey(query, opts.Fingerprint())
	cacheKey := key.String()

	// ---- Cache lookup ----
	cacheLookupStart := time.Now()
	cachedBytes, hit, cacheErr := h.Cache.Get(ctx, cacheKey)
	cacheLookupLatency := time.Since(cacheLookupStart)

	if cacheErr != nil {
		// Fail open: a broken cache backend degrades to a miss, never a 5xx.
		logger.Warn("cache_get_error", zap.Error(cacheErr))
	}

	if hit {
		var entry cachedEntry
		if err := json.Unmarshal(cachedBytes, &entry); err != nil {
			logger.Warn("cache_unmarshal_error", zap.Error(err))
		} else {
			logger.Info("cache_decision",
				zap.String("cache_key", cacheKey),
				zap.Bool("cache_hit", true),
				zap.Duration("cache_lookup_latency_ms", cacheLookupLatency),
				zap.Duration("total_latency_ms", time.Since(start)),
			)

			h.writeResult(w, start, query, entry.Results, cacheStatusHit, true)
			return
		}
	}

	// ---- Miss: fetch upstream ----
	upstreamStart := time.Now()
	results, err := h.Upstream.Search(ctx, query, opts)
	upstreamLatency := time.Since(upstreamStart)

	if err != nil {
		logger.Error("upstream_search_failed",
			zap.String("cache_key", cacheKey),
			zap.String("category", upstream.Category(err)),
			zap.Error(err),
			zap.Duration("upstream_latency_ms", upstreamLatency),
		)
		h.writeError(w, start, http.StatusInternalServerError, "search_failed", clientMessage(err))
		return
	}

	entry := cachedEntry{
		Results:            results,
		Total:              len(results),
		CacheStatus:        cacheStatusMiss,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		NormalizedQueryKey: key.NormalizedQuery,
	}

	if entryBytes, err := json.Marshal(entry); err != nil {
		logger.Warn("cache_marshal_error", zap.Error(err))
	} else {
		ttl := cache.TTLForResultCount(len(results))
		if err := h.Cache.Set(ctx, cacheKey, entryBytes, ttl); err != nil {
			// Caching is an optimization; never fail the request over it.
			logger.Warn("cache_set_error", zap.Error(err))
		}
	}

	logger.Info("cache_decision",
		zap.String("cache_key", cacheKey),
		zap.Bool("cache_hit", false),
		zap.Int("result_count", len(results)),
		zap.Duration("cache_lookup_latency_ms", cacheLookupLatency),
		zap.Duration("upstream_latency_ms", upstreamLatency),
		zap.Duration("total_latency_ms", time.Since(start)),
	)

	h.writeResult(w, start, query, results, cacheStatusMiss, false)
}

// validateQuery trims and checks the raw query: 1-500 characters, no
// markup/script-injection markers.
func validateQuery(raw string) (string, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return "", errors.New("query is required")
	}
	if len(query) > maxQueryLen {
		return "", fmt.Errorf("query exceeds %d characters", maxQueryLen)
	}

	lowered := strings.ToLower(query)
	for _, marker := range injectionMarkers {
		if strings.Contains(lowered, marker) {
			return "", errors.New("query contains disallowed content")
		}
	}

	return query, nil
}

// clientMessage maps an upstream error category to the generic text the
// caller sees. Provider error detail stays in the server-side logs.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, upstream.ErrRateLimited):
		return "search is temporarily unavailable, please try again later"
	case errors.Is(err, upstream.ErrTimeout):
		return "search timed out, please try again"
	default:
		return "search failed, please try again"
	}
}

func (h *SearchHandler) writeResult(w http.ResponseWriter, start time.Time, query string, results []upstream.SearchResult, cacheStatus string, cached bool) {
	if results == nil {
		results = []upstream.SearchResult{}
	}

	elapsed := processingTime(start)
	resp := searchResponse{
		Results:        results,
		Query:          query,
		TotalResults:   len(results),
		ProcessingTime: elapsed,
		Cached:         cached,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Processing-Time", elapsed)
	w.Header().Set("X-Cache-Status", cacheStatus)
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *SearchHandler) writeError(w http.ResponseWriter, start time.Time, status int, code, message string) {
	elapsed := processingTime(start)

	cacheStatus := cacheStatusMiss
	if status >= http.StatusInternalServerError {
		cacheStatus = cacheStatusError
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Processing-Time", elapsed)
	w.Header().Set("X-Cache-Status", cacheStatus)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:       code,
		Message:     message,
		CacheStatus: cacheStatus,
	})
}

func processingTime(start time.Time) string {
	return fmt.Sprintf("%dms", time.Since(start).Milliseconds())
}
