// Package db owns the Postgres pool behind the completion store: schema
// migration, per-connection statement preparation and health checks.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/config"
)

// ErrSchemaMissing is returned by HealthCheck when the server is reachable
// but the completion table is gone.
var ErrSchemaMissing = errors.New("db: prayer_completions table missing")

const healthCheckStmt = "health_check"

// Pool is the application pool. Statements from completion.Statements are
// prepared on each connection, so callers execute them by name.
type Pool struct {
	*pgxpool.Pool
}

// New connects and pings. The schema must already exist; see Migrate.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.AfterConnect = prepare

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Migrate applies the completion schema over a dedicated connection. It must
// run before New on a fresh database: preparing statements fails while the
// table is missing.
func Migrate(ctx context.Context, cfg *config.Config) error {
	conn, err := pgx.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, completion.Schema); err != nil {
		return fmt.Errorf("apply completion schema: %w", err)
	}
	return nil
}

// HealthCheck verifies the server answers and the completion table exists.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var present bool
	if err := p.QueryRow(ctx, healthCheckStmt).Scan(&present); err != nil {
		return err
	}
	if !present {
		return ErrSchemaMissing
	}
	return nil
}

func prepare(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Prepare(ctx, healthCheckStmt,
		"SELECT to_regclass('prayer_completions') IS NOT NULL"); err != nil {
		return fmt.Errorf("prepare %q: %w", healthCheckStmt, err)
	}
	for name, sql := range completion.Statements {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
