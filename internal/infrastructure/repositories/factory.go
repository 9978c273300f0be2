package repositories

import (
	"context"
	"time"

	"hirecall/internal/core/ports"
	"hirecall/internal/infrastructure/repositories/memory"
	redisrepo "hirecall/internal/infrastructure/repositories/redis"
	"hirecall/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectTimeout = 5 * time.Second

// RepositoryFactory picks the call store for the relay: Redis when it is
// enabled and reachable, memory otherwise.
type RepositoryFactory struct {
	redis   *redis.Client
	callTTL time.Duration
	logger  *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	f := &RepositoryFactory{callTTL: cfg.Redis.CallTTL, logger: logger}
	if !cfg.Redis.Enabled {
		logger.Infow("Using memory call store")
		return f
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	client, err := redisrepo.Connect(ctx, redisrepo.Options{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Warnw("Redis unavailable, falling back to memory call store", "error", err)
		return f
	}
	f.redis = client
	return f
}

// CreateCallRepository returns the traced call store.
func (f *RepositoryFactory) CreateCallRepository() ports.CallRepository {
	if f.redis != nil {
		return WithTracing(redisrepo.NewRedisCallRepository(f.redis, f.callTTL), f.Backend())
	}
	return WithTracing(memory.NewMemoryCallRepository(), f.Backend())
}

// Backend names the store in use for health output and spans.
func (f *RepositoryFactory) Backend() string {
	if f.redis != nil {
		return "redis"
	}
	return "memory"
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redis == nil {
		return nil
	}
	return f.redis.Ping(ctx).Err()
}

func (f *RepositoryFactory) Close() error {
	if f.redis == nil {
		return nil
	}
	return f.redis.Close()
}
