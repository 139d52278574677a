package testutil

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/config"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/database"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/env"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var databaseName = regexp.MustCompile(`^[a-z0-9_]+$`)

// engineTables are emptied before and after every test that uses GormDB.
var engineTables = []string{
	"purchase_events",
	"promotion_placements",
	"promotion_reservations",
	"bump_wallets",
	"tier_slot_occupants",
	"tier_slot_sets",
	"entitlements",
	"listings",
}

func openGorm(cfg config.Config) (*gorm.DB, error) {
	dialector, err := database.Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func resolveTestDatabase(t *testing.T) (config.Config, *gorm.DB) {
	t.Helper()

	cfg := config.Load()
	hosts := uniqueNonEmpty(env.GetEnv("DB_HOST", ""), "db", "marktboost-db", "localhost", "127.0.0.1")

	var lastErr error
	for _, host := range hosts {
		cfg.DBHost = host
		db, err := openGorm(cfg)
		if err == nil {
			return cfg, db
		}
		lastErr = err
	}

	t.Skipf("Skipping database-dependent test: no reachable %s endpoint (%v)", cfg.DBDriver, lastErr)
	return cfg, nil
}

// GormDB returns a connection to a migrated, emptied database named
// <DB_NAME>_<suffix>, or skips the test when no database is reachable. Each
// package passes its own suffix so packages tested in parallel do not share
// tables.
func GormDB(t *testing.T, suffix string) *gorm.DB {
	t.Helper()

	cfg, admin := resolveTestDatabase(t)
	name := fmt.Sprintf("%s_%s", cfg.DBName, suffix)
	if !databaseName.MatchString(name) {
		t.Fatalf("invalid test database name %q", name)
	}

	create := "CREATE DATABASE IF NOT EXISTS " + name
	if cfg.DBDriver == "postgres" {
		var exists int64
		admin.Raw("SELECT COUNT(*) FROM pg_database WHERE datname = ?", name).Scan(&exists)
		create = ""
		if exists == 0 {
			create = "CREATE DATABASE " + name
		}
	}
	if create != "" {
		if err := admin.Exec(create).Error; err != nil {
			t.Skipf("Skipping database-dependent test: cannot create %s (%v)", name, err)
		}
	}
	if sqlDB, err := admin.DB(); err == nil {
		_ = sqlDB.Close()
	}

	cfg.DBName = name
	db, err := openGorm(cfg)
	if err != nil {
		t.Skipf("Skipping database-dependent test: cannot open %s (%v)", name, err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate %s: %v", name, err)
	}

	truncate := func() {
		for _, table := range engineTables {
			_ = db.Exec("DELETE FROM " + table).Error
		}
	}
	truncate()

	t.Cleanup(func() {
		truncate()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}
