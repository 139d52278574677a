package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/config"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// SetupCache initializes the connection to the Redis/Dragonfly server
func SetupCache(cfg config.Config) {
	host, port := cfg.CacheHost, cfg.CachePort

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: cfg.CachePassword,
		DB:       0,
	})

	if IsReachable(context.Background()) {
		log.Infof("[Cache] Connected to %s:%s", host, port)
	} else {
		log.Warnf("[Cache] Could not connect to %s:%s, redis features disabled", host, port)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache(config.Load())
	}
	return client
}

// IsReachable pings the server with a short timeout.
func IsReachable(ctx context.Context) bool {
	if client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}
