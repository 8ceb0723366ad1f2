package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnIdleTime time.Duration
}

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

func NewConnectionPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	slog.Info("connecting to database")
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(max(cfg.MaxConns, 1))
	poolConfig.MinConns = int32(min(max(cfg.MinConns, 0), cfg.MaxConns))
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	slog.Info("database connection pool established", "max_conns", poolConfig.MaxConns, "min_conns", poolConfig.MinConns)
	return pool, nil
}

// sqliteDSN accepts sqlite://path, file: URIs and bare paths.
func sqliteDSN(url string) (string, error) {
	if strings.HasPrefix(url, "file:") {
		return url, nil
	}

	path := strings.TrimPrefix(url, "sqlite://")
	if path == "" {
		return "", fmt.Errorf("invalid sqlite database url '%s'", url)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("unable to create directory for sqlite database: %w", err)
	}

	if !strings.Contains(path, "?") {
		path += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	return path, nil
}

// NewDatabase opens the database, bounds its connection pool and applies
// migrations. The returned func closes every underlying resource.
func NewDatabase(ctx context.Context, cfg Config) (*gorm.DB, func(), error) {
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var (
		db      *gorm.DB
		pool    *pgxpool.Pool
		openErr error
	)

	if isPostgresURL(cfg.URL) {
		var err error
		pool, err = NewConnectionPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		db, openErr = gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gormConfig)
	} else {
		dsn, err := sqliteDSN(cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		db, openErr = gorm.Open(sqlite.Open(dsn), gormConfig)
	}

	closePool := func() {
		if pool != nil {
			pool.Close()
		}
	}

	if openErr != nil {
		closePool()
		return nil, nil, fmt.Errorf("error opening database connection: %w", openErr)
	}

	sqlDB, err := db.DB()
	if err != nil {
		closePool()
		return nil, nil, fmt.Errorf("error getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(max(cfg.MaxConns, 1))
	sqlDB.SetMaxIdleConns(max(cfg.MinConns, 1))
	if cfg.MaxConnIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}

	closeAll := func() {
		if err := sqlDB.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
		closePool()
	}

	if err := GetMigrator(db).Migrate(); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("error migrating database schema: %w", err)
	}

	return db, closeAll, nil
}
