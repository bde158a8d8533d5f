package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Registry RegistryConfig
	Gateway  GatewayConfig
	Trending TrendingConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int
	Environment string
}

type UpstreamConfig struct {
	BaseURL          string
	MinFetchInterval time.Duration
	RequestTimeout   time.Duration
	PriceTTL         time.Duration
	BatchTTL         time.Duration
}

type RegistryConfig struct {
	PollInterval         time.Duration
	MaxConsecutiveErrors int
}

type GatewayConfig struct {
	MaxConnectionsPerIP  int
	ConnectionWindow     time.Duration
	MaxSubscriptions     int
	ClientSendBufferSize int
}

type TrendingConfig struct {
	TTL          time.Duration
	DefaultLimit int
	MaxLimit     int
	SearchQuery  string
	FallbackFile string
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Upstream: UpstreamConfig{
			BaseURL:          getEnv("UPSTREAM_BASE_URL", "https://api.dexscreener.com"),
			MinFetchInterval: parseDuration(getEnv("UPSTREAM_MIN_FETCH_INTERVAL", "1s"), time.Second),
			RequestTimeout:   parseDuration(getEnv("UPSTREAM_REQUEST_TIMEOUT", "10s"), 10*time.Second),
			PriceTTL:         parseDuration(getEnv("UPSTREAM_PRICE_TTL", "1s"), time.Second),
			BatchTTL:         parseDuration(getEnv("UPSTREAM_BATCH_TTL", "20s"), 20*time.Second),
		},
		Registry: RegistryConfig{
			PollInterval:         parseDuration(getEnv("REGISTRY_POLL_INTERVAL", "2s"), 2*time.Second),
			MaxConsecutiveErrors: getEnvInt("REGISTRY_MAX_CONSECUTIVE_ERRORS", 5),
		},
		Gateway: GatewayConfig{
			MaxConnectionsPerIP:  getEnvInt("GATEWAY_MAX_CONNECTIONS_PER_IP", 10),
			ConnectionWindow:     parseDuration(getEnv("GATEWAY_CONNECTION_WINDOW", "60s"), 60*time.Second),
			MaxSubscriptions:     getEnvInt("GATEWAY_MAX_SUBSCRIPTIONS", 5),
			ClientSendBufferSize: getEnvInt("GATEWAY_CLIENT_SEND_BUFFER", 64),
		},
		Trending: TrendingConfig{
			TTL:          parseDuration(getEnv("TRENDING_TTL", "20s"), 20*time.Second),
			DefaultLimit: getEnvInt("TRENDING_DEFAULT_LIMIT", 10),
			MaxLimit:     getEnvInt("TRENDING_MAX_LIMIT", 50),
			SearchQuery:  getEnv("TRENDING_SEARCH_QUERY", "WETH USDC"),
			FallbackFile: getEnv("TRENDING_FALLBACK_FILE", "configs/trending_fallback.yaml"),
		},
		Redis: RedisConfig{
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnvInt("REDIS_PORT", 6379),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "pricepulse"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	if c.Registry.PollInterval <= 0 {
		return fmt.Errorf("REGISTRY_POLL_INTERVAL must be positive")
	}
	if c.Registry.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("REGISTRY_MAX_CONSECUTIVE_ERRORS must be positive")
	}
	if c.Gateway.MaxSubscriptions <= 0 {
		return fmt.Errorf("GATEWAY_MAX_SUBSCRIPTIONS must be positive")
	}
	return nil
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}
