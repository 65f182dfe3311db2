// Package config provides configuration management for the auction scanner.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Storage     StorageConfig
	Marketplace MarketplaceConfig
	Indexer     IndexerConfig
	Crawler     CrawlerConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64 // per client address, 0 disables
	RateLimitBurst    int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the postgres:// URL used by the migration tool.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration. Redis only backs the match feed,
// so it is disabled unless REDIS_ENABLED is set.
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	FeedKey        string
	FeedMaxLen     int
	SearchCacheTTL time.Duration // 0 disables the search cache
}

// StorageConfig selects the item store backend
type StorageConfig struct {
	Backend        string // postgres | memory
	MigrationsPath string
	AutoMigrate    bool
}

// MarketplaceConfig holds upstream marketplace API configuration
type MarketplaceConfig struct {
	APIBaseURL        string
	SiteBaseURL       string
	UserAgent         string
	PageSize          int
	MaxPages          int
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	MaxRetries        int
}

// IndexerConfig holds discovery/indexing scheduler configuration
type IndexerConfig struct {
	Interval      time.Duration
	LocationDelay time.Duration
	PageDelay     time.Duration
	Locations     []string // canonical location ids; empty tracks every location
	RunOnStart    bool
}

// CrawlerConfig holds rule engine configuration
type CrawlerConfig struct {
	ResultRetention time.Duration
	IntervalUnit    time.Duration
	SearchPageSize  int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnv("SERVER_PORT", "8080"),
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:   getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("SERVER_RATE_LIMIT_RPS", 20),
			RateLimitBurst:    getEnvAsInt("SERVER_RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "auction_scanner"),
				User:           getEnv("POSTGRES_USER", "scanner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
				FeedKey:        getEnv("REDIS_FEED_KEY", "auction-scanner:matches"),
				FeedMaxLen:     getEnvAsInt("REDIS_FEED_MAX_LEN", 1000),
				SearchCacheTTL: getEnvAsDuration("REDIS_SEARCH_CACHE_TTL", 30*time.Second),
			},
		},
		Storage: StorageConfig{
			Backend:        getEnv("STORAGE_BACKEND", "postgres"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations/postgres"),
			AutoMigrate:    getEnvAsBool("AUTO_MIGRATE", true),
		},
		Marketplace: MarketplaceConfig{
			APIBaseURL:        getEnv("MARKETPLACE_API_URL", "https://auction.example.com/api"),
			SiteBaseURL:       getEnv("MARKETPLACE_SITE_URL", "https://auction.example.com"),
			UserAgent:         getEnv("MARKETPLACE_USER_AGENT", "auction-scanner/1.0"),
			PageSize:          getEnvAsInt("MARKETPLACE_PAGE_SIZE", 100),
			MaxPages:          getEnvAsInt("MARKETPLACE_MAX_PAGES", 10),
			RequestTimeout:    getEnvAsDuration("MARKETPLACE_REQUEST_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("MARKETPLACE_RPS", 1),
			MaxRetries:        getEnvAsInt("MARKETPLACE_MAX_RETRIES", 3),
		},
		Indexer: IndexerConfig{
			Interval:      getEnvAsDuration("INDEXER_INTERVAL", 15*time.Minute),
			LocationDelay: getEnvAsDuration("INDEXER_LOCATION_DELAY", 2*time.Second),
			PageDelay:     getEnvAsDuration("INDEXER_PAGE_DELAY", time.Second),
			Locations:     getEnvAsList("INDEXER_LOCATIONS", nil),
			RunOnStart:    getEnvAsBool("INDEXER_RUN_ON_START", true),
		},
		Crawler: CrawlerConfig{
			ResultRetention: getEnvAsDuration("CRAWLER_RESULT_RETENTION", 24*time.Hour),
			IntervalUnit:    getEnvAsDuration("CRAWLER_INTERVAL_UNIT", time.Minute),
			SearchPageSize:  getEnvAsInt("CRAWLER_SEARCH_PAGE_SIZE", 200),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values that would make the scheduler or engine misbehave.
// Invalid values are reported, never clamped.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q: must be postgres or memory", c.Storage.Backend)
	}
	if c.Marketplace.PageSize <= 0 {
		return fmt.Errorf("MARKETPLACE_PAGE_SIZE must be positive, got %d", c.Marketplace.PageSize)
	}
	if c.Marketplace.MaxPages <= 0 {
		return fmt.Errorf("MARKETPLACE_MAX_PAGES must be positive, got %d", c.Marketplace.MaxPages)
	}
	if c.Marketplace.RequestsPerSecond <= 0 {
		return fmt.Errorf("MARKETPLACE_RPS must be positive, got %v", c.Marketplace.RequestsPerSecond)
	}
	if c.Indexer.Interval <= 0 {
		return fmt.Errorf("INDEXER_INTERVAL must be positive, got %v", c.Indexer.Interval)
	}
	if c.Indexer.LocationDelay < 0 || c.Indexer.PageDelay < 0 {
		return fmt.Errorf("indexer delays cannot be negative")
	}
	if c.Crawler.ResultRetention <= 0 {
		return fmt.Errorf("CRAWLER_RESULT_RETENTION must be positive, got %v", c.Crawler.ResultRetention)
	}
	if c.Server.RequestsPerSecond < 0 {
		return fmt.Errorf("SERVER_RATE_LIMIT_RPS cannot be negative, got %v", c.Server.RequestsPerSecond)
	}
	if c.Crawler.IntervalUnit <= 0 {
		return fmt.Errorf("CRAWLER_INTERVAL_UNIT must be positive, got %v", c.Crawler.IntervalUnit)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma separated environment variable as a trimmed list
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
