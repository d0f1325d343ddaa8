package common

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	LLM      LLMConfig
	Quota    QuotaConfig
	Dedup    DedupConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr    string
	MetricsAddr string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// QuotaConfig holds metered-call limits and the backing store selection
type QuotaConfig struct {
	Backend        string // sql | redis | memory
	RedisURL       string
	Timezone       string
	FreeDaily      int64
	FreeMonthly    int64 // <= 0 means unbounded
	ProDaily       int64
	ProMonthly     int64 // <= 0 means unbounded
	MaxTxnAttempts int
}

// DedupConfig holds duplicate scanner tuning
type DedupConfig struct {
	BatchSize int
}

// LoadConfig loads configuration from a .env file (when present) and environment variables
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// a malformed .env is not fatal; real env vars still apply
		_, _ = os.Stderr.WriteString("warning: .env: " + err.Error() + "\n")
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			GRPCAddr:    getEnv("GRPC_ADDR", ":8080"),
			MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		},
		LLM: LLMConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Quota: QuotaConfig{
			Backend:        getEnv("QUOTA_BACKEND", "sql"),
			RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Timezone:       getEnv("QUOTA_TIMEZONE", "UTC"),
			FreeDaily:      getEnvAsInt64("QUOTA_FREE_DAILY", 20),
			FreeMonthly:    getEnvAsInt64("QUOTA_FREE_MONTHLY", 300),
			ProDaily:       getEnvAsInt64("QUOTA_PRO_DAILY", 500),
			ProMonthly:     getEnvAsInt64("QUOTA_PRO_MONTHLY", 0),
			MaxTxnAttempts: getEnvAsInt("QUOTA_MAX_TXN_ATTEMPTS", 5),
		},
		Dedup: DedupConfig{
			BatchSize: getEnvAsInt("DEDUP_BATCH_SIZE", 400),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the loaded configuration for values the binaries cannot run without
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for postgres", ErrInvalidInput)
		}
	case "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	switch c.Quota.Backend {
	case "sql", "memory":
	case "redis":
		if c.Quota.RedisURL == "" {
			return NewAppError("CONFIG_ERROR", "REDIS_URL is required for the redis quota backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "QUOTA_BACKEND must be sql, redis or memory", ErrInvalidInput)
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return NewAppError("CONFIG_ERROR", "QUOTA_TIMEZONE is not a valid IANA zone", err)
	}
	if c.Quota.FreeDaily <= 0 || c.Quota.ProDaily <= 0 {
		return NewAppError("CONFIG_ERROR", "daily quota limits must be positive", ErrInvalidInput)
	}
	if c.Dedup.BatchSize <= 0 || c.Dedup.BatchSize > 500 {
		return NewAppError("CONFIG_ERROR", "DEDUP_BATCH_SIZE must be between 1 and 500", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}
