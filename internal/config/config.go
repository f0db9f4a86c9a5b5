// Package config handles configuration loading for the ingest
// service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Copilot   CopilotConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	Env             string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// TelemetryOff mirrors TELEMETRY_DISABLED: when true, the ingest
	// endpoint accepts and discards every event instead of writing it.
	TelemetryOff bool
}

// DBType names which storage backend to use.
type DBType string

const (
	DBTypeSQLite     DBType = "sqlite"
	DBTypePostgreSQL DBType = "postgresql"
)

// DatabaseConfig holds storage backend configuration. Exactly one of
// the two backends is active at a time, selected by Type.
type DatabaseConfig struct {
	Type DBType

	// SQLite
	Path string

	// PostgreSQL
	URL             string
	InternalURL     string
	SSL             bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// MaxSizeBytes holds DB_MAX_SIZE. Nothing reads it: GET /v1/db/size
	// reports the ceiling given in its maxBytes query parameter
	// (default 1 GiB), and no size limit is enforced.
	MaxSizeBytes int64
}

// RedisConfig holds Redis configuration for rate limiting and the
// top-N cache.
type RedisConfig struct {
	URL          string
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
}

// CopilotConfig seeds the built-in operator account on first boot.
type CopilotConfig struct {
	Username string
	Password string
	Role     string
}

// RateLimitConfig bounds ingest burst rate per server id.
type RateLimitConfig struct {
	DefaultRPM int
	Burst      int
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

const defaultMaxDBSizeBytes = 1 << 30 // 1 GiB

// Load loads configuration from environment variables, merging in a
// .env file from the working directory if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbType := DBType(strings.ToLower(getEnv("DB_TYPE", string(DBTypeSQLite))))
	if dbType != DBTypeSQLite && dbType != DBTypePostgreSQL {
		return nil, fmt.Errorf("config: invalid DB_TYPE %q, want %q or %q", dbType, DBTypeSQLite, DBTypePostgreSQL)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "3100"),
			Env:             getEnv("ENV", "development"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			TelemetryOff:    getBoolEnv("TELEMETRY_DISABLED", false),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			Path:            getEnv("DB_PATH", "./data/telemetry.db"),
			URL:             getEnv("DATABASE_URL", ""),
			InternalURL:     getEnv("DATABASE_INTERNAL_URL", ""),
			SSL:             getBoolEnv("DATABASE_SSL", true),
			MaxOpenConns:    getIntEnv("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getIntEnv("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxIdleTime: getDurationEnv("DATABASE_CONN_MAX_IDLE_TIME", 30*time.Second),
			ConnMaxLifetime: getDurationEnv("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			MaxSizeBytes:    getInt64Env("DB_MAX_SIZE", defaultMaxDBSizeBytes),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			MaxRetries:   getIntEnv("REDIS_MAX_RETRIES", 3),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 5),
		},
		Copilot: CopilotConfig{
			Username: getEnv("COPILOT_USERNAME", ""),
			Password: getEnv("COPILOT_PASSWORD", ""),
			Role:     getEnv("COPILOT_ROLE", "admin"),
		},
		RateLimit: RateLimitConfig{
			DefaultRPM: getIntEnv("RATE_LIMIT_DEFAULT_RPM", 1000),
			Burst:      getIntEnv("RATE_LIMIT_BURST", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if dbType == DBTypePostgreSQL && cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required when DB_TYPE=%s", DBTypePostgreSQL)
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
