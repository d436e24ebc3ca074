package upstream

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"searchcache-gateway/internal/cache"
)

type Config struct {
	//required fields
	ClientID     string
	ClientSecret string

	BaseURL  string // search API host (default: https://oauth.reddit.com)
	TokenURL string // OAuth token endpoint (default: https://www.reddit.com/api/v1/access_token)

	// Descriptive client identifier sent as User-Agent. Reddit throttles
	// anonymous agents hard, so keep it specific.
	UserAgent string

	AuthTimeout   time.Duration // token exchange timeout (default: 3s)
	SearchTimeout time.Duration // search request timeout (default: 4s)

	// Optional connection pool settings
	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// Validate checks required fields only.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("ClientID is required")
	}
	if c.ClientSecret == "" {
		return errors.New("ClientSecret is required")
	}
	return nil
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://oauth.reddit.com"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://www.reddit.com/api/v1/access_token"
	}
	// Normalize BaseURL: trim trailing slashes so we can safely append paths.
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.UserAgent == "" {
		cfg.UserAgent = "searchcache-gateway/1.0"
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 3 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 4 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}

	return cfg
}

type client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *tokenManager
	store      cache.Store // raw-body cache; nil disables it
	logger     *zap.Logger
}

// NewClient creates the upstream search client. store may be nil; when set
// it backs both the cross-instance OAuth token cache and the short-TTL raw
// response cache.
func NewClient(cfg Config, store cache.Store, logger *zap.Logger) (Client, error) {
	// Apply defaults + normalize BaseURL
	cfg = cfg.WithDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Use provided logger or no-op
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("upstream")

	// Use custom HTTP client if provided, otherwise create default
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(cfg),
		}
	}

	return &client{
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     newTokenManager(cfg, httpClient, store, logger),
		store:      store,
		logger:     logger,
	}, nil
}

// defaultTransport creates a production-ready HTTP transport
// with connection pooling and reasonable timeouts.
func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Close releases resources held by the client.
func (c *client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// AuthStatus reports token-manager internals for logging.
func (c *client) AuthStatus() map[string]any {
	return c.tokens.Status()
}
