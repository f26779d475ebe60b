package main

// Run database migrations and reconcile engine-managed columns:
//   go run ./cmd/migrate

import (
	"context"
	"log"
	"os"

	"papers-backend/internal/records"
	"papers-backend/internal/schema"
	"papers-backend/internal/shared/config"
	"papers-backend/internal/shared/storage/db"
	"papers-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := telemetry.New(cfg.Env)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	opts := db.OptionsFromEnv(db.DefaultCLIOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	res, err := db.RunMigrations(ctx, sqlDB)
	if err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("schema version", "from", res.From, "to", res.To)

	reconciler := schema.NewReconciler(&schema.PGExecutor{DB: sqlDB}, logger)
	failed := false
	for _, table := range []string{records.TableDocuments, records.TableAnnotations} {
		rep := reconciler.EnsureColumns(ctx, table, records.ColumnsFor(table))
		if !rep.OK() {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
