package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"searchcache-gateway/internal/cache"
	"searchcache-gateway/internal/metrics"
)

const (
	// TTL for the raw upstream response body. Short on purpose: it only
	// exists to absorb duplicate concurrent misses for the same key before
	// the primary cache entry lands.
	rawResponseTTL = 5 * time.Minute

	maxResponseSize = 2 * 1024 * 1024

	descriptionMaxLen = 300
)

// Search fetches up to opts.Limit results from the provider. One attempt
// per call; failure is surfaced promptly so the caller can decide to retry.
func (c *client) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	opts.Normalize()
	start := time.Now()

	token, err := c.tokens.bearer(ctx)
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues(Category(err)).Inc()
		return nil, err
	}

	rawKey := rawBodyKey(query, opts)

	// Serve a recently fetched raw body before going back to the network.
	if c.store != nil {
		if body, ok, err := c.store.Get(ctx, rawKey); err != nil {
			c.logger.Warn("raw cache read failed", zap.Error(err))
		} else if ok {
			results, mapErr := mapListing(body, opts.Limit)
			if mapErr == nil {
				c.logger.Debug("served from raw response cache",
					zap.String("raw_key", rawKey),
					zap.Int("result_count", len(results)),
				)
				return results, nil
			}
			c.logger.Warn("cached raw body unparseable", zap.Error(mapErr))
		}
	}

	reqURL := c.searchURL(query, opts)

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build search request: %v", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classifyTransportError(err)
		metrics.UpstreamErrorsTotal.WithLabelValues(Category(err)).Inc()
		c.logger.Error("search request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := classifyStatus(resp.StatusCode)
		metrics.UpstreamErrorsTotal.WithLabelValues(Category(err)).Inc()
		c.logger.Error("search upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 200)),
		)
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	if c.store != nil {
		if err := c.store.Set(ctx, rawKey, body, rawResponseTTL); err != nil {
			// Best effort; the primary cache still gets written upstack.
			c.logger.Warn("raw cache write failed", zap.Error(err))
		}
	}

	results, err := mapListing(body, opts.Limit)
	if err != nil {
		return nil, err
	}

	c.logger.Info("search completed",
		zap.Int("result_count", len(results)),
		zap.Duration("duration", time.Since(start)),
	)

	return results, nil
}

// searchURL builds the provider search URL. With subreddit filters the
// search is scoped to /r/<a+b>/search with restrict_sr so results stay
// inside the requested communities.
func (c *client) searchURL(query string, opts SearchOptions) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(opts.Limit))
	params.Set("sort", opts.Sort)
	params.Set("t", opts.Timeframe)
	params.Set("raw_json", "1")

	path := "/search"
	if len(opts.Subreddits) > 0 {
		path = "/r/" + strings.Join(opts.Subreddits, "+") + "/search"
		params.Set("restrict_sr", "on")
	}

	return c.cfg.BaseURL + path + "?" + params.Encode()
}

// rawBodyKey keys the raw response cache by the exact query + options,
// unlike the primary cache which groups normalized variants.
func rawBodyKey(query string, opts SearchOptions) string {
	fp := opts.Fingerprint()
	fp["q"] = query
	return "raw:" + cache.HashOptions(fp)
}

// mapListing converts the provider listing JSON to generic results,
// keeping link posts only and capping at limit.
func mapListing(body []byte, limit int) ([]SearchResult, error) {
	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode listing: %v", ErrUpstream, err)
	}

	results := make([]SearchResult, 0, len(env.Data.Children))
	for _, child := range env.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		p := child.Data
		if p.Title == "" {
			continue
		}

		resolved := p.URL
		if p.Permalink != "" {
			resolved = "https://www.reddit.com" + p.Permalink
		}

		results = append(results, SearchResult{
			Title:       p.Title,
			URL:         resolved,
			Description: truncate(p.SelfText, descriptionMaxLen),
			Score:       p.Score,
			Subreddit:   p.Subreddit,
			Author:      p.Author,
			CreatedUTC:  int64(p.CreatedUTC),
		})

		if len(results) >= limit {
			break
		}
	}

	return results, nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, status)
	default:
		return fmt.Errorf("%w: status %d", ErrUpstream, status)
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// truncate limits string length for logging and snippets.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
