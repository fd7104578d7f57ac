package gorm

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/apiary/pkg/hive/support/util/exception"
	"github.com/tigerroll/apiary/pkg/hive/support/util/logger"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "apiary_schema_migrations"

//go:embed migrations
var migrationFiles embed.FS

func migrationDriver(dialect string, db *sql.DB) (database.Driver, error) {
	switch dialect {
	case "sqlite":
		return sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: MigrationsTable})
	case "postgres":
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: MigrationsTable})
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
}

// Migrate applies the pending job_runs migrations of the connection's dialect.
func (r *JobRunRepository) Migrate(ctx context.Context) error {
	dialect := r.db.Dialector.Name()
	sqlDB, err := r.db.WithContext(ctx).DB()
	if err != nil {
		return exception.NewConfigurationError(moduleName, "failed to get history connection", err)
	}
	source, err := iofs.New(migrationFiles, "migrations/"+dialect)
	if err != nil {
		return exception.NewConfigurationError(moduleName, "no migrations for dialect "+dialect, err)
	}
	driver, err := migrationDriver(dialect, sqlDB)
	if err != nil {
		_ = source.Close()
		return exception.NewConfigurationError(moduleName, "failed to prepare "+dialect+" migrations", err)
	}
	// m is not closed: that would close the shared *sql.DB.
	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		_ = source.Close()
		return exception.NewConfigurationError(moduleName, "failed to prepare "+dialect+" migrations", err)
	}
	defer source.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return exception.NewConfigurationError(moduleName, "failed to migrate job_runs table", err)
	}
	if version, dirty, err := m.Version(); err == nil {
		logger.Debugf("History schema at version %d (dirty: %t)", version, dirty)
	}
	return nil
}
