// Package catalog persists the state that used to live only in memory
// once a query is admitted: which queries exist and what lifecycle state
// they are in, which logical/physical sources are registered, and a
// capacity history for every topology node. Queries and sources are
// backed by Postgres via pgx; topology capacity history is backed by
// Redis, since it is written on every heartbeat and only ever read
// backwards from "now", a access pattern a sorted set fits directly.
package catalog

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds the connection settings for the query and source
// catalogs' backing database.
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	SSLMode         string
}

// PostgresClient wraps a connection pool plus the logger used for the
// one-time "connected" log line.
type PostgresClient struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresClient dials config and pings once to fail fast on a
// misconfigured connection string, rather than surfacing the first
// error on the first query.
func NewPostgresClient(ctx context.Context, config PostgresConfig, logger *slog.Logger) (*PostgresClient, error) {
	connURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		config.User, config.Password, config.Host, config.Port, config.Database, config.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: parsing postgres connection config: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("catalog: creating postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: pinging postgres: %w", err)
	}

	logger.Info("postgres catalog connected",
		slog.String("host", config.Host), slog.Int("port", config.Port), slog.String("database", config.Database))

	return &PostgresClient{pool: pool, logger: logger}, nil
}

func (c *PostgresClient) Close() {
	c.logger.Info("closing postgres catalog connection")
	c.pool.Close()
}

// Pool returns the underlying pool for the query/source catalogs to run
// SQL against directly.
func (c *PostgresClient) Pool() *pgxpool.Pool { return c.pool }

func (c *PostgresClient) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

// PostgresFlagPointers holds the flag.* return values until flag.Parse
// has run, matching the two-phase register-then-resolve pattern used for
// every CLI-configurable dependency in this repo.
type PostgresFlagPointers struct {
	host            *string
	port            *int
	user            *string
	password        *string
	database        *string
	maxConns        *int
	minConns        *int
	maxConnLifetime *int
	sslMode         *string
}

func RegisterPostgresFlags() *PostgresFlagPointers {
	return &PostgresFlagPointers{
		host:            flag.String("postgres-host", getEnv("NEBULASTREAM_POSTGRES_HOST", "localhost"), "Postgres host"),
		port:            flag.Int("postgres-port", getEnvInt("NEBULASTREAM_POSTGRES_PORT", 5432), "Postgres port"),
		user:            flag.String("postgres-user", getEnv("NEBULASTREAM_POSTGRES_USER", "nebulastream"), "Postgres user"),
		password:        flag.String("postgres-password", getEnv("NEBULASTREAM_POSTGRES_PASSWORD", ""), "Postgres password"),
		database:        flag.String("postgres-database", getEnv("NEBULASTREAM_POSTGRES_DATABASE", "nebulastream"), "Postgres database name"),
		maxConns:        flag.Int("postgres-max-conns", getEnvInt("NEBULASTREAM_POSTGRES_MAX_CONNS", 10), "Postgres pool max connections"),
		minConns:        flag.Int("postgres-min-conns", getEnvInt("NEBULASTREAM_POSTGRES_MIN_CONNS", 2), "Postgres pool min connections"),
		maxConnLifetime: flag.Int("postgres-max-conn-lifetime-minutes", getEnvInt("NEBULASTREAM_POSTGRES_MAX_CONN_LIFETIME", 5), "Postgres connection max lifetime in minutes"),
		sslMode:         flag.String("postgres-ssl-mode", getEnv("NEBULASTREAM_POSTGRES_SSL_MODE", "disable"), "Postgres SSL mode"),
	}
}

func (p *PostgresFlagPointers) ToPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:            *p.host,
		Port:            *p.port,
		Database:        *p.database,
		User:            *p.user,
		Password:        *p.password,
		MaxConns:        int32(*p.maxConns),
		MinConns:        int32(*p.minConns),
		MaxConnLifetime: time.Duration(*p.maxConnLifetime) * time.Minute,
		SSLMode:         *p.sslMode,
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
