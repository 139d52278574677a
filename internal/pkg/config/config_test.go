package config

import (
	"testing"
	"time"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/env"
	"github.com/stretchr/testify/assert"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	prev := env.Env
	env.Env = values
	t.Cleanup(func() { env.Env = prev })
}

func TestLoadDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"RECONCILE_INTERVAL":         "",
		"LOW_BUMP_BALANCE_THRESHOLD": "",
		"DB_DRIVER":                  "",
		"DB_PORT":                    "",
		"STORE_BACKEND":              "",
	})

	cfg := Load()
	assert.Equal(t, 6*time.Hour, cfg.ReconcileInterval)
	assert.Equal(t, int64(2), cfg.LowBumpBalanceThreshold)
	assert.Equal(t, "gorm", cfg.StoreBackend)
	assert.Equal(t, "3306", cfg.DatabasePort())
}

func TestLoadOverrides(t *testing.T) {
	withEnv(t, map[string]string{
		"RECONCILE_INTERVAL":      "15m",
		"CONFLICT_RETRY_ATTEMPTS": "5",
		"DB_DRIVER":               "Postgres",
		"DB_PORT":                 "",
		"APP_HOST":                "127.0.0.1",
		"APP_PORT":                "8080",
	})

	cfg := Load()
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 5, cfg.ConflictRetryAttempts)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "5432", cfg.DatabasePort())
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	withEnv(t, map[string]string{
		"RECONCILE_INTERVAL": "often",
		"API_RATE_LIMIT":     "-3",
	})

	cfg := Load()
	assert.Equal(t, 6*time.Hour, cfg.ReconcileInterval)
	assert.Equal(t, 120, cfg.APIRateLimit)
}
