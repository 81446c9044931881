package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/coopquest/backend/pkg/database"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Encounter EncounterConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/coopquest?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis connection settings. Disabled runs a single instance
// without Redis: local broadcast only, no sweep lock, no scan limiter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Disabled bool
}

// JWTConfig holds the secret used to validate team session tokens.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// EncounterConfig tunes the encounter lifecycle.
type EncounterConfig struct {
	SweepInterval    time.Duration // how often pending encounters are checked for expiry
	SweepMaxBackoff  time.Duration // cap for retry delay after a failed sweep
	SweepLockTTL     time.Duration // Redis lock so only one instance sweeps per tick
	SweepInServer    bool          // run the sweep inside cmd/server as well as cmd/worker
	DefaultTimeLimit time.Duration // used when a challenge has no time limit
	PersonalQRPrefix string
	ScanRateWindow   time.Duration // one scan per team per window
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool {
	return !c.Disabled && c.Addr != ""
}

// PoolOptions returns the pool sizing for pkg/database.
func (c DatabaseConfig) PoolOptions() database.PoolOptions {
	return database.PoolOptions{MaxConns: int32(c.MaxConns), MinConns: int32(c.MinConns)}
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "3001"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "coopquest"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 20),
			MinConns: getEnvInt("DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Disabled: getEnvBool("REDIS_DISABLED", false),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Encounter: EncounterConfig{
			SweepInterval:    getEnvDuration("ENCOUNTER_SWEEP_INTERVAL", 15*time.Second),
			SweepMaxBackoff:  getEnvDuration("ENCOUNTER_SWEEP_MAX_BACKOFF", 2*time.Minute),
			SweepLockTTL:     getEnvDuration("ENCOUNTER_SWEEP_LOCK_TTL", 10*time.Second),
			SweepInServer:    getEnvBool("ENCOUNTER_SWEEP_IN_SERVER", true),
			DefaultTimeLimit: getEnvDuration("ENCOUNTER_DEFAULT_TIME_LIMIT", 120*time.Second),
			PersonalQRPrefix: getEnv("PERSONAL_QR_PREFIX", "COOPQUEST-TEAM-"),
			ScanRateWindow:   getEnvDuration("SCAN_RATE_WINDOW", 5*time.Second),
		},
	}
	if cfg.Encounter.SweepInterval <= 0 {
		return nil, fmt.Errorf("ENCOUNTER_SWEEP_INTERVAL must be positive, got %s", cfg.Encounter.SweepInterval)
	}
	if cfg.Encounter.SweepMaxBackoff < cfg.Encounter.SweepInterval {
		cfg.Encounter.SweepMaxBackoff = cfg.Encounter.SweepInterval
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or plain seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
