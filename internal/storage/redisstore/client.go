package redisstore

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
)

// NewClient connects to the Redis server in cfg, or starts an embedded
// miniredis for the miniredis driver. The returned func releases both.
func NewClient(ctx context.Context, cfg config.StoreConfig) (*redis.Client, func(), error) {
	var (
		client   *redis.Client
		embedded *miniredis.Miniredis
	)

	switch cfg.Driver {
	case config.StoreRedis:
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case config.StoreMiniredis:
		s, err := miniredis.Run()
		if err != nil {
			return nil, nil, errors.Wrap(err, "start miniredis")
		}
		embedded = s
		client = redis.NewClient(&redis.Options{Addr: s.Addr()})
	default:
		return nil, nil, errors.Errorf("redis driver %q not supported", cfg.Driver)
	}

	closeFn := func() {
		_ = client.Close()
		if embedded != nil {
			embedded.Close()
		}
	}

	if err := client.Ping(ctx).Err(); err != nil {
		closeFn()
		return nil, nil, errors.Wrap(err, "ping redis")
	}
	return client, closeFn, nil
}
