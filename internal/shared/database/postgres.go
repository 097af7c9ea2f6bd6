package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bloodconnect/platform/internal/shared/config"
)

// Schema holds every BloodConnect table
const Schema = "bloodconnect"

const uniqueViolation = "23505"

// DB wraps the pgx pool with helper methods
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// PoolConfig turns DatabaseConfig into a pgx pool configuration. Sessions
// resolve unqualified names in the bloodconnect schema first.
func PoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = 1
	if cfg.MinConns > 0 && int32(cfg.MinConns) <= poolConfig.MaxConns {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	rt := poolConfig.ConnConfig.RuntimeParams
	rt["search_path"] = Schema + ",public"
	rt["application_name"] = "bloodconnect"
	return poolConfig, nil
}

// New opens the pool and waits up to cfg.ConnectTimeout for the first ping
func New(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*DB, error) {
	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("postgres pool ready")
	return &DB{Pool: pool, log: log}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool == nil {
		return
	}
	stat := db.Pool.Stat()
	db.log.Info().
		Int32("acquired", stat.AcquiredConns()).
		Int32("total", stat.TotalConns()).
		Msg("closing postgres pool")
	db.Pool.Close()
}

// Health pings the database and reports an exhausted pool
func (db *DB) Health(ctx context.Context) error {
	if err := db.Pool.Ping(ctx); err != nil {
		return err
	}
	stat := db.Pool.Stat()
	if stat.MaxConns() > 0 && stat.AcquiredConns() >= stat.MaxConns() {
		return fmt.Errorf("connection pool exhausted (%d/%d)", stat.AcquiredConns(), stat.MaxConns())
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
