// Command facilityd serves the public facility search API with its health
// and metrics endpoints on a separate port.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/cache"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/config"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/httputil"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/ratelimit"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/search"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/storage"
)

func main() {
	// Local development convenience; the file is optional.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(nil)

	store, err := storage.NewPostgresStore(cfg.Storage, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to connect to store")
		os.Exit(1)
	}

	redisClient := newRedisClient(cfg.Redis, logger)

	multiTier := cache.NewMultiTier(cfg.Cache, redisClient, metrics, logger)

	fallback, err := search.LoadFallback(cfg.Search.FallbackFile)
	if err != nil {
		logger.WithError(err).Error("failed to load fallback facility set")
		os.Exit(1)
	}

	service := search.NewService(store, multiTier, fallback, cfg.Search, logger, metrics)

	// Per-client admission: one local token bucket per client, backed by a
	// Redis fixed window when Redis is available so limits hold across
	// replicas.
	perSecond := float64(cfg.Search.RequestsPerMinute) / 60.0
	keyed := ratelimit.NewKeyedLimiter(ratelimit.Config{
		Capacity:        cfg.Search.RequestsPerMinute,
		RefillPerSecond: perSecond,
	})
	var distributed *ratelimit.DistributedLimiter
	if redisClient != nil {
		distributed = ratelimit.NewDistributedLimiter(redisClient, cfg.Search.RequestsPerMinute, time.Minute, "search")
	}

	handler := search.NewHandler(service, keyed, distributed, logger, metrics)

	router := mux.NewRouter()
	handler.Register(router)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      metrics.InstrumentHandler("/api/v1/facilities", chain(router)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := newHealthServer(cfg, store, redisClient, metrics)

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		if redisClient != nil {
			return redisClient.Close()
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return store.Close()
	})

	// Stale per-client buckets accumulate indefinitely without a sweeper.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			keyed.Cleanup(15 * time.Minute)
		}
	}()

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", server.Addr).Info("search server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("search server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown error")
		os.Exit(1)
	}
}

// newRedisClient connects to Redis, or returns nil when Redis is not
// configured or unreachable. Everything downstream treats nil as
// "degrade gracefully".
func newRedisClient(cfg config.RedisConfig, logger *observability.Logger) *redis.Client {
	if cfg.URL == "" {
		logger.Info("redis not configured, running with local cache only")
		return nil
	}

	var opts *redis.Options
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			logger.WithError(err).Error("invalid redis URL, running without redis")
			return nil
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable at startup, continuing without it")
		client.Close()
		return nil
	}
	return client
}

func newHealthServer(cfg *config.Config, store *storage.PostgresStore,
	redisClient *redis.Client, metrics *observability.Metrics) *http.Server {
	checker := observability.NewHealthChecker(store.DB(), redisClient)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", checker.Liveness)
	healthMux.HandleFunc("/health/ready", checker.Readiness)
	healthMux.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:        cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:     healthMux,
		ReadTimeout: 5 * time.Second,
	}
}
