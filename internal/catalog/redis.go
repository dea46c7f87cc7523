package catalog

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection settings for the topology capacity
// catalog's backing store.
type RedisConfig struct {
	Host       string
	Port       int
	Password   string
	DB         int
	TLSEnabled bool
}

// RedisClient wraps a connection plus the logger used for the one-time
// "connected" log line.
type RedisClient struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisClient(ctx context.Context, config RedisConfig, logger *slog.Logger) (*RedisClient, error) {
	options := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	}
	if config.TLSEnabled {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("catalog: pinging redis: %w", err)
	}

	logger.Info("redis topology catalog connected",
		slog.String("address", options.Addr), slog.Int("db", config.DB), slog.Bool("tls", config.TLSEnabled))

	return &RedisClient{client: client, logger: logger}, nil
}

func (c *RedisClient) Close() error {
	c.logger.Info("closing redis topology catalog connection")
	return c.client.Close()
}

// Client returns the underlying client for the topology catalog to issue
// ZSET commands against directly.
func (c *RedisClient) Client() *redis.Client { return c.client }

func (c *RedisClient) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

type RedisFlagPointers struct {
	host       *string
	port       *int
	password   *string
	db         *int
	tlsEnabled *bool
}

func RegisterRedisFlags() *RedisFlagPointers {
	return &RedisFlagPointers{
		host:       flag.String("redis-host", getEnv("NEBULASTREAM_REDIS_HOST", "localhost"), "Redis host"),
		port:       flag.Int("redis-port", getEnvInt("NEBULASTREAM_REDIS_PORT", 6379), "Redis port"),
		password:   flag.String("redis-password", getEnv("NEBULASTREAM_REDIS_PASSWORD", ""), "Redis password"),
		db:         flag.Int("redis-db", getEnvInt("NEBULASTREAM_REDIS_DB", 0), "Redis database number"),
		tlsEnabled: flag.Bool("redis-tls-enable", getEnvBool("NEBULASTREAM_REDIS_TLS_ENABLE", false), "enable TLS for the Redis connection"),
	}
}

func (r *RedisFlagPointers) ToRedisConfig() RedisConfig {
	return RedisConfig{
		Host:       *r.host,
		Port:       *r.port,
		Password:   *r.password,
		DB:         *r.db,
		TLSEnabled: *r.tlsEnabled,
	}
}
