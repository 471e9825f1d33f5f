package db

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to Redis, used for event fan-out, rate limiting and
// indexer idempotency keys. An empty url means Redis is disabled and the
// returned client is nil.
func NewRedisClient(ctx context.Context, url string, log *zap.Logger) (*redis.Client, error) {
	if url == "" {
		log.Warn("REDIS_URL is empty, running without redis")
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client, nil
}
