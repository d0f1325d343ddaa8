package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is an ent SQL driver plus, for Postgres, the pgx pool behind it.
// Repositories build dialect-aware statements through Builder.
type DB struct {
	drv  *entsql.Driver
	pool *pgxpool.Pool
}

// Open creates a pgx pool, wraps it for Ent, and returns the handle.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "driver", dialect.Postgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database config", "error", err)
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "receipt-reconciler"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for Ent
	db := stdlib.OpenDBFromPool(pool)
	drv := entsql.OpenDB(dialect.Postgres, db)

	logger.Info("successfully connected to database")
	return &DB{drv: drv, pool: pool}, nil
}

// OpenSQLite opens a modernc SQLite database. Use ":memory:" for a
// throwaway database; the handle is pinned to one connection so an
// in-memory database survives for its whole lifetime and writers serialize.
func OpenSQLite(dsn string, logger *slog.Logger) (*DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	logger.Info("opening sqlite database", "dsn", dsn)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to open sqlite database", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &DB{drv: entsql.OpenDB(dialect.SQLite, db)}, nil
}

// SQL exposes the underlying database/sql handle.
func (d *DB) SQL() *sql.DB {
	return d.drv.DB()
}

// Dialect is the ent dialect name (postgres or sqlite3).
func (d *DB) Dialect() string {
	return d.drv.Dialect()
}

// Builder returns a statement builder bound to this database's dialect.
func (d *DB) Builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.drv.Dialect())
}

// Close closes the database connections gracefully
func (d *DB) Close(logger *slog.Logger) {
	logger.Info("closing database connections")
	if d.drv != nil {
		if err := d.drv.Close(); err != nil {
			logger.Error("failed to close ent driver", "error", err)
		}
	}
	if d.pool != nil {
		d.pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration, logger *slog.Logger) error {
	logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var err error
	if d.pool != nil {
		err = d.pool.Ping(ctx)
	} else {
		err = d.SQL().PingContext(ctx)
	}
	if err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		merchant_name TEXT NOT NULL DEFAULT '',
		tx_date TEXT,
		tx_type TEXT NOT NULL DEFAULT 'purchase',
		total DOUBLE PRECISION,
		currency_code TEXT NOT NULL DEFAULT 'USD',
		category TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'manual',
		canonical_key TEXT,
		status TEXT NOT NULL DEFAULT 'settled',
		original_receipt_id TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CHECK (total IS NULL OR total >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS receipts_owner_status_key ON receipts (owner_id, status, canonical_key)`,
	`CREATE INDEX IF NOT EXISTS receipts_owner_created ON receipts (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS usage_counters (
		owner_id TEXT PRIMARY KEY,
		plan TEXT NOT NULL,
		daily_count BIGINT NOT NULL,
		monthly_count BIGINT NOT NULL,
		daily_window_start BIGINT NOT NULL,
		monthly_window_start BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		version BIGINT NOT NULL
	)`,
}

// Migrate creates the tables and indexes if they do not exist yet.
func (d *DB) Migrate(ctx context.Context, logger *slog.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := d.SQL().ExecContext(ctx, stmt); err != nil {
			logger.Error("schema migration failed", "error", err)
			return fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Info("schema is up to date", "dialect", d.Dialect())
	return nil
}
