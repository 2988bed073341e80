package cache

import (
	"context"
	"fmt"

	"github.com/matzehuels/umlpipe/pkg/config"
)

// Open returns the backend selected by cfg.Cache.Backend.
func Open(ctx context.Context, cfg *config.Config) (Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return NewNullCache(), nil
	case config.CacheRedis:
		c, err := NewRedisCache(ctx, RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.CacheMongo:
		c, err := NewMongoCache(ctx, MongoOptions{
			URI:        cfg.Cache.MongoURI,
			Database:   cfg.Cache.MongoDatabase,
			Collection: cfg.Cache.MongoCollection,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.CacheFile, "":
		dir, err := cfg.CacheDir()
		if err != nil {
			return nil, fmt.Errorf("get cache dir: %w", err)
		}
		c, err := NewFileCache(dir)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
}
