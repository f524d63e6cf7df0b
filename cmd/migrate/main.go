package main

// Run database migrations:
//   go run ./cmd/migrate

import (
	"context"
	"os"

	"lovepage-backend/internal/shared/config"
	"lovepage-backend/internal/shared/storage/db"
	"lovepage-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Configure(cfg.LogLevel, nil)
	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		telemetry.Error("migrate.database_url_missing", nil)
		os.Exit(1)
	}
	driver, _ := db.DriverFor(cfg.DatabaseURL)

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.RunMigrations(ctx, sqlDB, driver); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	version, err := db.MigrationStatus(ctx, sqlDB, driver)
	if err != nil {
		telemetry.Warn("migrate.status_failed", map[string]any{"error": err.Error()})
		return
	}
	telemetry.Info("migrate.done", map[string]any{"driver": driver, "version": version})
}
