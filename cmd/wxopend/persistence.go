package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	wxmigrations "github.com/goliatone/go-wxopen/migrations"
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "wxopend" }

// openPersistence connects the configured driver and applies the embedded
// migrations for its dialect.
func openPersistence(ctx context.Context, proc processConfig) (*persistence.Client, error) {
	migrationSet, err := wxmigrations.DialectForDriver(proc.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	var (
		dialect    schema.Dialect
		driverName string
	)
	switch migrationSet {
	case wxmigrations.DialectSQLite:
		driverName = "sqlite3"
		dialect = sqlitedialect.New()
	default:
		driverName = "postgres"
		dialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(driverName, proc.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driverName == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{
		driver: driverName,
		server: proc.DatabaseURL,
		debug:  proc.LogLevel == "trace",
	}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	_, err = wxmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrationSet {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, wxmigrations.WithValidationTargets(migrationSet))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}

func newRateLimitCache() (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	config.TTL = 30 * time.Second
	return repositorycache.NewCacheService(config)
}
