package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: every environment variable is read here and nowhere else
type Config struct {
	// Server
	Port string `validate:"required"`
	Env  string `validate:"oneof=development staging production test"`

	Database DatabaseConfig
	Redis    RedisConfig
	Snapshot SnapshotConfig
	Router   RouterConfig
	LLM      LLMConfig

	// Data providers
	Eastmoney EastmoneyConfig
	Tushare   TushareConfig
	Sina      SinaConfig
	Yahoo     YahooConfig

	// Analysts
	AnalystTimeout time.Duration `validate:"gt=0"`
	AnalystsConfig string

	// Logging
	LogLevel  string
	LogFormat string `validate:"oneof=json console pretty"`

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration (L2 cache)
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int `validate:"gte=0"`
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration (warehouse provider)
// An empty URL disables the warehouse.
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int `validate:"gte=1"`
	MinConns        int `validate:"gte=0"`
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// SnapshotConfig controls the on-disk snapshot writer
type SnapshotConfig struct {
	Enabled bool
	Path    string `validate:"required"`
	Mode    string `validate:"oneof=sync async"`
}

// RouterConfig controls provider failover and caching
type RouterConfig struct {
	CacheSize           int           `validate:"gte=1"`
	HealthCheckInterval time.Duration `validate:"gt=0"`
	Workers             int           `validate:"gte=1"`
}

// LLMConfig holds the chat model endpoint. An empty APIKey disables it.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// EastmoneyConfig holds Eastmoney endpoints
type EastmoneyConfig struct {
	QuoteURL   string `validate:"required,url"`
	FinanceURL string `validate:"required,url"`
	RPM        int    `validate:"gte=1"`
}

// TushareConfig holds the Tushare Pro API token
type TushareConfig struct {
	Token   string
	BaseURL string `validate:"required,url"`
	RPM     int    `validate:"gte=1"`
}

// SinaConfig holds Sina Finance news endpoint
type SinaConfig struct {
	BaseURL string `validate:"required,url"`
	RPM     int    `validate:"gte=1"`
}

// YahooConfig toggles the Yahoo Finance adapter
type YahooConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables
// ⭐ SSOT: the only function that calls os.Getenv()
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Snapshot: SnapshotConfig{
			Enabled: getEnvAsBool("DATA_SNAPSHOT_ENABLED", false),
			Path:    getEnv("DATA_SNAPSHOT_PATH", "data/snapshots"),
			Mode:    strings.ToLower(getEnv("DATA_SNAPSHOT_MODE", "sync")),
		},

		Router: RouterConfig{
			CacheSize:           getEnvAsInt("CACHE_LRU_SIZE", 128),
			HealthCheckInterval: getEnvAsDuration("HEALTH_CHECK_INTERVAL", 5*time.Minute),
			Workers:             getEnvAsInt("PROVIDER_WORKERS", 4),
		},

		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
		},

		Eastmoney: EastmoneyConfig{
			QuoteURL:   getEnv("EASTMONEY_QUOTE_URL", "https://push2his.eastmoney.com"),
			FinanceURL: getEnv("EASTMONEY_FINANCE_URL", "https://datacenter.eastmoney.com"),
			RPM:        getEnvAsInt("EASTMONEY_RPM", 60),
		},

		Tushare: TushareConfig{
			Token:   getEnv("TUSHARE_TOKEN", ""),
			BaseURL: getEnv("TUSHARE_BASE_URL", "https://api.tushare.pro"),
			RPM:     getEnvAsInt("TUSHARE_RPM", 200),
		},

		Sina: SinaConfig{
			BaseURL: getEnv("SINA_BASE_URL", "https://vip.stock.finance.sina.com.cn"),
			RPM:     getEnvAsInt("SINA_RPM", 30),
		},

		Yahoo: YahooConfig{
			Enabled: getEnvAsBool("YAHOO_ENABLED", true),
		},

		AnalystTimeout: getEnvAsDuration("ANALYST_TIMEOUT", 2*time.Minute),
		AnalystsConfig: getEnv("ANALYSTS_CONFIG", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct constraints
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// loadEnvFile loads the first .env found in the working directory or
// next to the binary. Variables already set in the process win.
func loadEnvFile() {
	candidates := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates, filepath.Join(dir, ".env"), filepath.Join(dir, "..", ".env"))
	}
	for _, path := range candidates {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// envAs parses key with parse; unset or unparsable values yield fallback.
func envAs[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsInt(key string, fallback int) int {
	return envAs(key, fallback, strconv.Atoi)
}

func getEnvAsBool(key string, fallback bool) bool {
	return envAs(key, fallback, strconv.ParseBool)
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	return envAs(key, fallback, time.ParseDuration)
}
