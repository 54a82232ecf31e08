package repositories

import (
	"context"
	"time"

	"nests/internal/core/ports"
	"nests/internal/infrastructure/repositories/memory"
	redisrepo "nests/internal/infrastructure/repositories/redis"
	"nests/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	eventTTL    time.Duration
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		eventTTL: cfg.Events.StoreTTL,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisrepo.Connect(context.Background(), redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateRoomDirectory creates a room directory (Redis or memory with fallback)
func (f *RepositoryFactory) CreateRoomDirectory() ports.RoomDirectory {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRoomDirectory(f.redisClient)
	}
	return memory.NewRoomDirectory()
}

// CreateEventStore creates a role event store (Redis or memory with fallback)
func (f *RepositoryFactory) CreateEventStore() ports.EventStore {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewEventStore(f.redisClient, f.eventTTL)
	}
	return memory.NewEventStore()
}

// UsingRedis reports whether repositories are backed by Redis.
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

// RedisClient returns the shared client, or nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.UsingRedis() {
		return nil
	}
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
