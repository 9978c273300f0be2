package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options select the Redis instance that stores calls.
type Options struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Connect opens a pooled client, checks that the server answers and brings
// the call schema up to date. The client is closed again on any failure.
func Connect(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Address, err)
	}
	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate call schema: %w", err)
	}

	logger.Infow("Connected to Redis", "address", opts.Address, "db", opts.DB, "pool_size", opts.PoolSize)
	return client, nil
}
