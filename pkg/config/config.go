package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hackingco/soberlivings-finder-sub003/pkg/cache"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/observability"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/ratelimit"
	"github.com/hackingco/soberlivings-finder-sub003/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration (search daemon)
	Server ServerConfig

	// Upstream data source configuration
	Upstream UpstreamConfig

	// Storage configuration
	Storage storage.Config

	// Redis configuration (distributed cache tier + distributed rate limits)
	Redis RedisConfig

	// Cache configuration
	Cache cache.Config

	// ETL pipeline configuration
	ETL ETLConfig

	// Search serving configuration
	Search SearchConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// UpstreamConfig holds the government data source settings
type UpstreamConfig struct {
	BaseURL  string
	APIKey   string
	Location string
	PageSize int
	// ResultType filters upstream rows (e.g. "treatment", "sober-living")
	ResultType string
	Timeout    time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// ETLConfig holds pipeline behavior settings
type ETLConfig struct {
	Pipeline    string
	BatchSize   int
	MaxRetries  int
	TestLimit   int
	RateLimit   ratelimit.Config
	// Feature toggles
	GeocodingEnabled     bool
	DeduplicationEnabled bool
	ValidationEnabled    bool
	EnrichmentEnabled    bool
}

// SearchConfig holds search-serving settings
type SearchConfig struct {
	DefaultRadiusMiles float64
	DefaultLimit       int
	MaxLimit           int
	StoreTimeout       time.Duration
	// Admission control for inbound requests, per client per minute.
	RequestsPerMinute int
	// FallbackFile optionally overrides the embedded degraded-mode
	// facility set (YAML).
	FallbackFile string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Upstream:      loadUpstreamConfig(),
		Storage:       loadStorageConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		ETL:           loadETLConfig(),
		Search:        loadSearchConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("FACILITIES_HOST", "0.0.0.0"),
		Port:            getEnv("FACILITIES_PORT", "8080"),
		ReadTimeout:     getEnvDuration("FACILITIES_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FACILITIES_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("FACILITIES_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FACILITIES_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("FACILITIES_HEALTH_PORT", "9090"),
	}
}

func loadUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		BaseURL:    getEnv("FACILITIES_UPSTREAM_URL", "https://findtreatment.gov/locator/exportsAsJson/v2"),
		APIKey:     getEnv("FACILITIES_UPSTREAM_API_KEY", ""),
		Location:   getEnv("FACILITIES_UPSTREAM_LOCATION", "US"),
		PageSize:   getEnvInt("FACILITIES_UPSTREAM_PAGE_SIZE", 100),
		ResultType: getEnv("FACILITIES_UPSTREAM_RESULT_TYPE", "sober-living"),
		Timeout:    getEnvDuration("FACILITIES_UPSTREAM_TIMEOUT", 30*time.Second),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = getEnv("FACILITIES_POSTGRES_URL", "")
	if maxConns := getEnvInt("FACILITIES_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("FACILITIES_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("FACILITIES_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("FACILITIES_REDIS_URL", ""),
		Password:   getEnv("FACILITIES_REDIS_PASSWORD", ""),
		DB:         getEnvInt("FACILITIES_REDIS_DB", 0),
		MaxRetries: getEnvInt("FACILITIES_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("FACILITIES_REDIS_POOL_SIZE", 10),
	}
}

func loadCacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	if n := getEnvInt("FACILITIES_CACHE_LOCAL_ENTRIES", 0); n > 0 {
		cfg.LocalMaxEntries = n
	}
	if ttl := getEnvDuration("FACILITIES_CACHE_LOCAL_TTL", 0); ttl > 0 {
		cfg.LocalTTL = ttl
	}
	if ttl := getEnvDuration("FACILITIES_CACHE_TTL", 0); ttl > 0 {
		cfg.DistributedTTL = ttl
	}
	return cfg
}

func loadETLConfig() ETLConfig {
	return ETLConfig{
		Pipeline:   getEnv("FACILITIES_ETL_PIPELINE", "facilities-etl"),
		BatchSize:  getEnvInt("FACILITIES_ETL_BATCH_SIZE", 100),
		MaxRetries: getEnvInt("FACILITIES_ETL_MAX_RETRIES", 3),
		TestLimit:  getEnvInt("FACILITIES_ETL_TEST_LIMIT", 50),
		RateLimit: ratelimit.Config{
			Capacity:        getEnvInt("FACILITIES_ETL_RATE_CAPACITY", 10),
			RefillPerSecond: getEnvFloat("FACILITIES_ETL_RATE_REFILL", 5),
		},
		GeocodingEnabled:     getEnvBool("FACILITIES_ETL_GEOCODING", true),
		DeduplicationEnabled: getEnvBool("FACILITIES_ETL_DEDUPLICATION", true),
		ValidationEnabled:    getEnvBool("FACILITIES_ETL_VALIDATION", true),
		EnrichmentEnabled:    getEnvBool("FACILITIES_ETL_ENRICHMENT", false),
	}
}

func loadSearchConfig() SearchConfig {
	return SearchConfig{
		DefaultRadiusMiles: getEnvFloat("FACILITIES_SEARCH_DEFAULT_RADIUS", 25),
		DefaultLimit:       getEnvInt("FACILITIES_SEARCH_DEFAULT_LIMIT", 50),
		MaxLimit:           getEnvInt("FACILITIES_SEARCH_MAX_LIMIT", 200),
		StoreTimeout:       getEnvDuration("FACILITIES_SEARCH_STORE_TIMEOUT", 2*time.Second),
		RequestsPerMinute:  getEnvInt("FACILITIES_SEARCH_REQUESTS_PER_MINUTE", 120),
		FallbackFile:       getEnv("FACILITIES_SEARCH_FALLBACK_FILE", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("FACILITIES_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("FACILITIES_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required")
	}
	if c.Upstream.PageSize <= 0 {
		return fmt.Errorf("upstream page size must be positive")
	}

	if c.ETL.BatchSize <= 0 {
		return fmt.Errorf("ETL batch size must be positive")
	}
	if c.ETL.MaxRetries < 0 {
		return fmt.Errorf("ETL max retries must not be negative")
	}

	if c.Search.MaxLimit <= 0 {
		return fmt.Errorf("search max limit must be positive")
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search default limit %d exceeds max limit %d",
			c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Search.DefaultRadiusMiles <= 0 {
		return fmt.Errorf("search default radius must be positive")
	}

	if c.Cache.LocalTTL > c.Cache.DistributedTTL {
		return fmt.Errorf("local cache TTL must not exceed distributed TTL")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
