package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"searchcache-gateway/internal/cache"
)

const (
	// Refresh when the in-memory token is within this window of expiry.
	tokenRefreshWindow = 60 * time.Second

	// Lifetime of the token copy written to the shared store. Slightly
	// under the provider's real 60-minute token lifetime so a cold
	// instance never reads a token that dies mid-request.
	tokenStoreTTL = 55 * time.Minute
)

// authToken is the process-wide OAuth bearer token. Immutable once built;
// refreshes swap in a new value atomically.
type authToken struct {
	accessToken string
	expiresAt   time.Time
}

func (t *authToken) valid(now time.Time) bool {
	return t != nil && t.accessToken != "" && now.Add(tokenRefreshWindow).Before(t.expiresAt)
}

// storedToken is the JSON shape persisted in the shared store so other
// instances can reuse a still-valid token.
type storedToken struct {
	AccessToken      string `json:"accessToken"`
	ExpiresAtEpochMs int64  `json:"expiresAtEpochMs"`
}

// tokenManager owns the client-credentials token lifecycle: populated
// lazily, refreshed on near-expiry, optionally backed by the shared store
// for cross-instance reuse.
//
// Deliberately lock-free. Two in-flight requests may both decide to refresh
// concurrently; last writer wins. Token issuance is idempotent from our
// side, so the occasional duplicate exchange is cheaper than serializing
// every request through a mutex.
type tokenManager struct {
	cfg        Config
	httpClient *http.Client
	store      cache.Store // may be nil
	logger     *zap.Logger

	current atomic.Pointer[authToken]

	refreshes atomic.Int64
	failures  atomic.Int64
}

func newTokenManager(cfg Config, httpClient *http.Client, store cache.Store, logger *zap.Logger) *tokenManager {
	return &tokenManager{
		cfg:        cfg,
		httpClient: httpClient,
		store:      store,
		logger:     logger.Named("auth"),
	}
}

func (m *tokenManager) storeKey() string {
	return "auth:token:" + m.cfg.ClientID
}

// bearer returns a valid access token, fetching or refreshing as needed.
func (m *tokenManager) bearer(ctx context.Context) (string, error) {
	now := time.Now()

	if t := m.current.Load(); t.valid(now) {
		return t.accessToken, nil
	}

	// A sibling instance may have refreshed already.
	if t := m.fromStore(ctx, now); t != nil {
		m.current.Store(t)
		return t.accessToken, nil
	}

	t, err := m.exchange(ctx)
	if err != nil {
		m.failures.Add(1)
		return "", err
	}

	m.current.Store(t)
	m.refreshes.Add(1)
	m.persist(ctx, t)

	return t.accessToken, nil
}

// fromStore checks the shared store for a token written by another
// instance. Store errors are fail-open: log and fall through to a fresh
// exchange.
func (m *tokenManager) fromStore(ctx context.Context, now time.Time) *authToken {
	if m.store == nil {
		return nil
	}

	raw, ok, err := m.store.Get(ctx, m.storeKey())
	if err != nil {
		m.logger.Warn("token store read failed", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		m.logger.Warn("stored token unmarshal failed", zap.Error(err))
		return nil
	}

	t := &authToken{
		accessToken: st.AccessToken,
		expiresAt:   time.UnixMilli(st.ExpiresAtEpochMs),
	}
	if !t.valid(now) {
		return nil
	}

	m.logger.Debug("reusing token from shared store",
		zap.Time("expires_at", t.expiresAt),
	)
	return t
}

func (m *tokenManager) persist(ctx context.Context, t *authToken) {
	if m.store == nil {
		return
	}

	raw, err := json.Marshal(storedToken{
		AccessToken:      t.accessToken,
		ExpiresAtEpochMs: t.expiresAt.UnixMilli(),
	})
	if err != nil {
		m.logger.Warn("token marshal failed", zap.Error(err))
		return
	}

	if err := m.store.Set(ctx, m.storeKey(), raw, tokenStoreTTL); err != nil {
		// Best effort: other instances just exchange their own token.
		m.logger.Warn("token store write failed", zap.Error(err))
	}
}

// exchange performs the client-credentials grant against the token endpoint.
func (m *tokenManager) exchange(parentCtx context.Context) (*authToken, error) {
	ctx, cancel := context.WithTimeout(parentCtx, m.cfg.AuthTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build token request: %v", ErrAuth, err)
	}
	req.SetBasicAuth(m.cfg.ClientID, m.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", m.cfg.UserAgent)

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: token exchange: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: token exchange: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		m.logger.Error("token exchange rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return nil, fmt.Errorf("%w: token endpoint status %d", ErrAuth, resp.StatusCode)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
		Scope       string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", ErrAuth, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrAuth)
	}

	t := &authToken{
		accessToken: tr.AccessToken,
		expiresAt:   time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}

	m.logger.Info("obtained access token",
		zap.Int("expires_in_s", tr.ExpiresIn),
		zap.Duration("exchange_latency", time.Since(start)),
	)

	return t, nil
}

// Status reports token-manager internals for logging and health surfaces.
func (m *tokenManager) Status() map[string]any {
	t := m.current.Load()
	status := map[string]any{
		"has_token":     t != nil && t.accessToken != "",
		"refresh_count": m.refreshes.Load(),
		"error_count":   m.failures.Load(),
	}
	if t != nil {
		status["expires_in_s"] = time.Until(t.expiresAt).Seconds()
	}
	return status
}
