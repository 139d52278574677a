package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MarktBoost/app/controllers"
	"github.com/ManuelReschke/MarktBoost/app/repository"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/billing"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/bumpwallet"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/cache"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/clock"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/config"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/database"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/env"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/metrics"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/notify"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/promotion"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/ranking"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/reconcile"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/router"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/subscription"
	"github.com/ManuelReschke/MarktBoost/internal/pkg/tierslots"
)

// recentNotifications bounds the admin notification feed.
const recentNotifications = 200

func main() {
	app, scheduler, cfg := NewApplication()
	scheduler.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("[App] Shutting down")
		scheduler.Stop()
		if err := app.Shutdown(); err != nil {
			log.Errorf("[App] Shutdown failed: %v", err)
		}
	}()

	if err := app.Listen(cfg.ListenAddr()); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *reconcile.Scheduler, config.Config) {
	env.SetupEnvFile()
	if env.IsDev() {
		log.SetLevel(log.LevelDebug)
	}
	cfg := config.Load()
	cache.SetupCache(cfg)
	redisUp := cache.IsReachable(context.Background())

	var db *gorm.DB
	if cfg.StoreBackend != repository.BackendMemory {
		var err error
		if db, err = database.SetupDatabase(cfg); err != nil {
			log.Fatalf("[Database] Giving up: %v", err)
		}
	}
	store, err := repository.NewFactory(cfg.StoreBackend, db).GetStore()
	if err != nil {
		log.Fatalf("[App] Store setup failed: %v", err)
	}
	log.Infof("[App] Using %s store", cfg.StoreBackend)

	recorder := notify.NewRecorder(recentNotifications)
	notifiers := notify.Multi{notify.LogNotifier{}, recorder}
	if redisUp {
		notifiers = append(notifiers, notify.NewRedisNotifier(cache.GetClient(), cfg.NotifyChannel))
	}

	clk := clock.Real{}
	cat := entitlements.DefaultCatalog()
	m := metrics.GetEngineMetrics()

	lifecycle := subscription.NewLifecycle(store, cat, clk, notifiers, m)
	allocator := tierslots.NewAllocator(store, cat, clk, m)
	wallet := bumpwallet.NewWallet(store, clk, notifiers, m)
	wallet.SetLowBalanceThreshold(cfg.LowBumpBalanceThreshold)
	promotions := promotion.NewManager(store, cat, clk, m)
	purchases := billing.NewService(store, cat, billing.Services{
		Lifecycle:  lifecycle,
		Allocator:  allocator,
		Wallet:     wallet,
		Promotions: promotions,
	}, clk, notifiers, m)

	lifecycle.SetRetryAttempts(cfg.ConflictRetryAttempts)
	allocator.SetRetryAttempts(cfg.ConflictRetryAttempts)
	wallet.SetRetryAttempts(cfg.ConflictRetryAttempts)
	promotions.SetRetryAttempts(cfg.ConflictRetryAttempts)
	purchases.SetRetryAttempts(cfg.ConflictRetryAttempts)

	var locker reconcile.Locker
	if redisUp {
		locker = reconcile.NewRedisLocker(cache.GetClient(), reconcile.DefaultLockKey, cfg.ReconcileLockTTL)
	}
	sweeper := reconcile.NewSweeper(store, lifecycle, allocator, promotions, clk, notifiers, m)
	scheduler := reconcile.NewScheduler(sweeper, cfg.ReconcileInterval, locker)

	if cfg.PurchaseWebhookSecret == "" {
		log.Warn("[Purchase] PURCHASE_WEBHOOK_SECRET not set, confirmations are accepted unsigned")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	opts := router.Options{
		RateLimit:   cfg.APIRateLimit,
		OpenAPIFile: findOpenAPIFile(),
	}
	if redisUp {
		opts.LimiterStorage = router.NewLimiterStorage(cache.GetClient())
	}

	router.InstallRouter(app, &controllers.Services{
		Lifecycle:     lifecycle,
		Allocator:     allocator,
		Wallet:        wallet,
		Promotions:    promotions,
		Ranking:       ranking.NewEngine(store, clk),
		Purchases:     purchases,
		Scheduler:     scheduler,
		Recorder:      recorder,
		WebhookSecret: cfg.PurchaseWebhookSecret,
	}, opts)

	return app, scheduler, cfg
}

func findOpenAPIFile() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/marktboost to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		file := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(file); err == nil {
			return file
		}
	}
	return ""
}
