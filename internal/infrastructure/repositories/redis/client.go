package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ClientOptions configures the shared directory client.
type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// ConnectTimeout bounds the initial ping and schema migration.
	ConnectTimeout time.Duration
}

func (o ClientOptions) redisOptions() *redis.Options {
	opts := &redis.Options{
		Addr:         o.Address,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		DialTimeout:  o.ConnectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if opts.PoolSize > 0 {
		opts.MinIdleConns = min(5, opts.PoolSize)
	}
	return opts
}

// Connect opens a client, checks that the server answers and brings the
// directory schema up to date. The client is closed again on any failure.
func Connect(ctx context.Context, o ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	client := redis.NewClient(o.redisOptions())

	ctx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", o.Address, err)
	}
	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate directory schema: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to redis",
			"address", o.Address,
			"db", o.DB,
			"pool_size", o.PoolSize,
		)
	}
	return client, nil
}
