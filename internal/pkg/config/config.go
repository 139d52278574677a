package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
)

// Config is the typed runtime configuration read from .env and the process
// environment.
type Config struct {
	AppHost string
	AppPort string

	StoreBackend string

	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	CacheHost     string
	CachePort     string
	CachePassword string

	ReconcileInterval       time.Duration
	ReconcileLockTTL        time.Duration
	LowBumpBalanceThreshold int64
	ConflictRetryAttempts   int

	PurchaseWebhookSecret string
	NotifyChannel         string
	APIRateLimit          int
}

// Load reads the configuration. Malformed numeric or duration values fall
// back to their defaults with a warning.
func Load() Config {
	return Config{
		AppHost: env.GetEnv("APP_HOST", "0.0.0.0"),
		AppPort: env.GetEnv("APP_PORT", "4000"),

		StoreBackend: strings.ToLower(env.GetEnv("STORE_BACKEND", "gorm")),

		DBDriver:   strings.ToLower(env.GetEnv("DB_DRIVER", "mysql")),
		DBHost:     env.GetEnv("DB_HOST", "127.0.0.1"),
		DBPort:     env.GetEnv("DB_PORT", ""),
		DBUser:     env.GetEnv("DB_USER", ""),
		DBPassword: env.GetEnv("DB_PASSWORD", ""),
		DBName:     env.GetEnv("DB_NAME", "marktboost"),

		CacheHost:     env.GetEnv("CACHE_HOST", "localhost"),
		CachePort:     env.GetEnv("CACHE_PORT", "6379"),
		CachePassword: env.GetEnv("CACHE_PASSWORD", ""),

		ReconcileInterval:       duration("RECONCILE_INTERVAL", 6*time.Hour),
		ReconcileLockTTL:        duration("RECONCILE_LOCK_TTL", 30*time.Minute),
		LowBumpBalanceThreshold: int64(integer("LOW_BUMP_BALANCE_THRESHOLD", 2)),
		ConflictRetryAttempts:   integer("CONFLICT_RETRY_ATTEMPTS", 3),

		PurchaseWebhookSecret: env.GetEnv("PURCHASE_WEBHOOK_SECRET", ""),
		NotifyChannel:         env.GetEnv("NOTIFY_CHANNEL", "marktboost:notifications"),
		APIRateLimit:          integer("API_RATE_LIMIT", 120),
	}
}

// ListenAddr is the address fiber listens on.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}

// DatabasePort returns DB_PORT or the driver's default port.
func (c Config) DatabasePort() string {
	if c.DBPort != "" {
		return c.DBPort
	}
	if c.DBDriver == "postgres" {
		return "5432"
	}
	return "3306"
}

func duration(key string, def time.Duration) time.Duration {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warnf("[Config] Invalid %s=%q, using %s", key, raw, def)
		return def
	}
	return d
}

func integer(key string, def int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		log.Warnf("[Config] Invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return n
}
