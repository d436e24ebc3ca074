package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"searchcache-gateway/internal/cache"
	"searchcache-gateway/internal/handlers"
	"searchcache-gateway/internal/httpserver"
	"searchcache-gateway/internal/metrics"
	"searchcache-gateway/internal/upstream"
	"searchcache-gateway/pkg/logging/logging"
)

type Config struct {
	Port         string
	CacheBackend string // "memory" or "redis"
	RedisAddr    string
	CachePrefix  string

	SearchClientID     string
	SearchClientSecret string
	SearchBaseURL      string
	SearchTokenURL     string
	UserAgent          string
}

func LoadConfig() Config {
	return Config{
		Port:         getenv("PORT", "8080"),
		CacheBackend: getenv("CACHE_BACKEND", "memory"),
		RedisAddr:    getenv("REDIS_ADDR", "127.0.0.1:6379"),
		CachePrefix:  getenv("CACHE_PREFIX", "searchgw"),

		SearchClientID:     os.Getenv("SEARCH_CLIENT_ID"),
		SearchClientSecret: os.Getenv("SEARCH_CLIENT_SECRET"),
		SearchBaseURL:      os.Getenv("SEARCH_BASE_URL"),  // defaults in upstream.Config
		SearchTokenURL:     os.Getenv("SEARCH_TOKEN_URL"), // defaults in upstream.Config
		UserAgent:          getenv("SEARCH_USER_AGENT", "searchcache-gateway/1.0 (ad-blog search proxy)"),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// .env is optional; real deployments inject env vars directly
	_ = godotenv.Load()

	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := LoadConfig()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("cache_prefix", cfg.CachePrefix),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Cache store -----
	store := cache.NewStore(cache.Config{
		Backend: cfg.CacheBackend,
		Prefix:  cfg.CachePrefix,
	}, redisClient)
	store = cache.NewLoggingStore(store)

	// ----- Upstream search client -----
	searchClient, err := upstream.NewClient(upstream.Config{
		ClientID:     cfg.SearchClientID,
		ClientSecret: cfg.SearchClientSecret,
		BaseURL:      cfg.SearchBaseURL,
		TokenURL:     cfg.SearchTokenURL,
		UserAgent:    cfg.UserAgent,
	}, store, logger)
	if err != nil {
		return err
	}
	if closer, ok := searchClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Handler -----
	searchHandler := handlers.NewSearchHandler(store, searchClient)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, searchHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	if statuser, ok := searchClient.(interface{ AuthStatus() map[string]any }); ok {
		logger.Info("token manager status", zap.Any("status", statuser.AuthStatus()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
