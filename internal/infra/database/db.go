package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PoolConfig sizes the connection pool and bounds the startup retry loop.
type PoolConfig struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
	RetryDelay      time.Duration
}

func (p PoolConfig) withDefaults() PoolConfig {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = 10
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = 5 * time.Minute
	}
	if p.ConnectAttempts <= 0 {
		p.ConnectAttempts = 1
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = 2 * time.Second
	}
	return p
}

// NewPostgresConnection opens a pool against dsn and pings it, retrying while
// the server is still coming up.
func NewPostgresConnection(ctx context.Context, dsn string, pool PoolConfig) (*sqlx.DB, error) {
	pool = pool.withDefaults()

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxOpenConns / 2)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	var pingErr error
	for attempt := 1; attempt <= pool.ConnectAttempts; attempt++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			return db, nil
		}
		if attempt == pool.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("database connect aborted: %w", ctx.Err())
		case <-time.After(pool.RetryDelay):
		}
	}

	db.Close()
	return nil, fmt.Errorf("failed to ping database after %d attempt(s): %w", pool.ConnectAttempts, pingErr)
}
