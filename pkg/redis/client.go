// Package redis opens go-redis clients for the live store and ranking cache.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/pulse/pkg/logger"
)

// Options describes a single Redis endpoint.
type Options struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, o Options) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	}
	if o.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", o.Addr, err)
	}

	logger.Get().Named("redis").Info(ctx, "connected to redis",
		logger.String("addr", o.Addr), logger.Int("db", o.DB), logger.Bool("tls", o.UseTLS))
	return client, nil
}

// IsHealthy checks if Redis is responding.
func IsHealthy(ctx context.Context, c redis.UniversalClient) bool {
	return c.Ping(ctx).Err() == nil
}
