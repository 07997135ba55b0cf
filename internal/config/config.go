// Package config provides configuration management for the portfolio aggregator.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/portfolio-aggregator/internal/errors"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Provider   ProviderConfig
	Price      PriceConfig
	Aggregator AggregatorConfig
	Bitcoin    BitcoinConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
	ChainsFile string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
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

// ClickHouseConfig holds ClickHouse configuration. The balance history sink is
// only started when Enabled is set.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ProviderConfig holds the hybrid provider settings shared by every chain
type ProviderConfig struct {
	EnableWSS            bool
	PoolSize             int
	ConnectTimeout       time.Duration
	HealthCheckInterval  time.Duration
	AutoReconnect        bool
	MaxReconnectAttempts int
}

// PriceConfig holds price cache settings
type PriceConfig struct {
	BaseURL         string
	APIKey          string
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
	TTL             time.Duration
	RequestsPerSec  float64
	RedisTTL        time.Duration
}

// AggregatorConfig holds portfolio aggregation settings
type AggregatorConfig struct {
	ChainConcurrency     int
	PrimaryFallbackPrice float64
	RefreshInterval      time.Duration
	HistoryDays          int
}

// BitcoinConfig holds the explorer endpoints for the primary ledger
type BitcoinConfig struct {
	BlockstreamURL    string
	BlockchainInfoURL string
	RequestTimeout    time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", true),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Provider: ProviderConfig{
			EnableWSS:            getEnvAsBool("ENABLE_WSS", true),
			PoolSize:             getEnvAsInt("WSS_POOL_SIZE", 2),
			ConnectTimeout:       getEnvAsDuration("WSS_CONNECT_TIMEOUT", 10*time.Second),
			HealthCheckInterval:  getEnvAsDuration("WSS_HEALTH_CHECK_INTERVAL", 30*time.Second),
			AutoReconnect:        getEnvAsBool("WSS_AUTO_RECONNECT", true),
			MaxReconnectAttempts: getEnvAsInt("WSS_MAX_RECONNECT_ATTEMPTS", 3),
		},
		Price: PriceConfig{
			BaseURL:         getEnv("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
			APIKey:          getEnv("COINGECKO_API_KEY", ""),
			RefreshInterval: getEnvAsDuration("PRICE_REFRESH_INTERVAL", 60*time.Second),
			RequestTimeout:  getEnvAsDuration("PRICE_REQUEST_TIMEOUT", 10*time.Second),
			TTL:             getEnvAsDuration("PRICE_TTL", 5*time.Minute),
			RequestsPerSec:  getEnvAsFloat("PRICE_RPS", 0.5),
			RedisTTL:        getEnvAsDuration("PRICE_REDIS_TTL", 10*time.Minute),
		},
		Aggregator: AggregatorConfig{
			ChainConcurrency:     getEnvAsInt("EVM_CHAIN_CONCURRENCY", 3),
			PrimaryFallbackPrice: getEnvAsFloat("PRIMARY_FALLBACK_PRICE", 95000),
			RefreshInterval:      getEnvAsDuration("REFRESH_INTERVAL", 15*time.Minute),
			HistoryDays:          getEnvAsInt("HISTORY_DAYS", 7),
		},
		Bitcoin: BitcoinConfig{
			BlockstreamURL:    getEnv("BLOCKSTREAM_URL", "https://blockstream.info/api"),
			BlockchainInfoURL: getEnv("BLOCKCHAIN_INFO_URL", "https://blockchain.info"),
			RequestTimeout:    getEnvAsDuration("BTC_REQUEST_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		ChainsFile: getEnv("CHAINS_FILE", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the system cannot run with. Values that only
// need clamping (pool size, intervals) are clamped where they are used.
func (c *Config) Validate() error {
	if c.Aggregator.ChainConcurrency < 1 {
		return apperrors.NewConfigError("EVM_CHAIN_CONCURRENCY", "must be at least 1")
	}
	if c.Aggregator.PrimaryFallbackPrice < 0 {
		return apperrors.NewConfigError("PRIMARY_FALLBACK_PRICE", "must not be negative")
	}
	if c.Price.RefreshInterval <= 0 {
		return apperrors.NewConfigError("PRICE_REFRESH_INTERVAL", "must be positive")
	}
	if c.Price.RequestsPerSec <= 0 {
		return apperrors.NewConfigError("PRICE_RPS", "must be positive")
	}
	if c.Aggregator.HistoryDays < 1 {
		return apperrors.NewConfigError("HISTORY_DAYS", "must be at least 1")
	}
	if !strings.HasPrefix(c.Price.BaseURL, "http") {
		return apperrors.NewConfigError("COINGECKO_URL", "must be an http(s) URL")
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

// getEnvAsDuration accepts Go duration syntax ("30s") or a bare number of seconds ("30")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
