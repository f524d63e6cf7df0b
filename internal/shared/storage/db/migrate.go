package db

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// GooseDialect maps a database/sql driver name to the goose dialect.
func GooseDialect(driverName string) string {
	if driverName == DriverSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// RunMigrations applies embedded SQL migrations via goose. If database is nil, it's a no-op.
func RunMigrations(ctx context.Context, database *sql.DB, driverName string) error {
	if database == nil {
		return nil
	}
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect(GooseDialect(driverName)); err != nil {
		return err
	}
	return goose.UpContext(ctx, database, "migrations")
}

// MigrationStatus reports the current schema version.
func MigrationStatus(ctx context.Context, database *sql.DB, driverName string) (int64, error) {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect(GooseDialect(driverName)); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, database)
}
