package importer

import (
	"context"

	"trends-importer/internal/cache"
	"trends-importer/internal/config"
	"trends-importer/internal/db"
	"trends-importer/internal/logger"
)

// Purge drains the cache purge queue into redis. Without a redis URL the
// queue is left for a later purge and nothing happens.
func Purge(ctx context.Context, d *db.DB, cfg config.CacheConfig, log *logger.Logger) (int, error) {
	if cfg.RedisURL == "" {
		return 0, nil
	}
	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return 0, err
	}
	defer rdb.Close()
	return cache.NewPurger(d.Pool(), rdb, cfg.PurgeBatch, log).Drain(ctx)
}
