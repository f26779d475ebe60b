package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"papers-backend/internal/files"
	"papers-backend/internal/ingest"
	"papers-backend/internal/records"
	"papers-backend/internal/schema"
	"papers-backend/internal/services/health"
	"papers-backend/internal/shared/config"
	"papers-backend/internal/shared/server"
	"papers-backend/internal/shared/server/middleware"
	"papers-backend/internal/shared/storage/db"
	"papers-backend/internal/shared/storage/object"
	gcsstore "papers-backend/internal/shared/storage/object/gcs"
	localstore "papers-backend/internal/shared/storage/object/local"
	memstore "papers-backend/internal/shared/storage/object/memory"
	s3store "papers-backend/internal/shared/storage/object/s3"
	"papers-backend/internal/shared/telemetry"
	"papers-backend/internal/sweep"
)

// App holds shared dependencies.
type App struct {
	Config     config.Config
	Log        *telemetry.Logger
	Router     *gin.Engine
	DB         *sql.DB
	Store      *object.Adapter
	Tables     records.Tables
	Reconciler *schema.Reconciler
	Repo       *records.Repository
	Records    *records.Service
	Pipeline   *ingest.Pipeline
	Sweeper    *sweep.Sweeper
	Health     *health.Service
}

// Options tweaks Build for callers that need something other than the
// configured backends, mostly tests and the CLI.
type Options struct {
	Logger *telemetry.Logger
	// Backend replaces the configured object backend.
	Backend object.Backend
	// Tables replaces the configured record tables. The value must also
	// implement schema.Executor.
	Tables records.Tables
	// DBOptions overrides the pool settings used when DATABASE_URL is set.
	DBOptions *db.Options
	// SkipRouter leaves App.Router nil.
	SkipRouter bool
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config) (*App, error) {
	return BuildWith(context.Background(), cfg, Options{})
}

// BuildWith is Build with explicit overrides.
func BuildWith(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if cfg.PapersBucket == "" {
		cfg.PapersBucket = "papers"
	}
	if cfg.SolutionsBucket == "" {
		cfg.SolutionsBucket = "solutions"
	}

	logger := opts.Logger
	if logger == nil {
		l, err := telemetry.New(cfg.Env)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		logger = l
	}
	telemetry.SetDefault(logger)

	app := &App{Config: cfg, Log: logger}

	store, err := buildStore(ctx, cfg, opts.Backend)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		return nil, err
	}
	app.Store = store

	tables, exec, sqlDB, err := buildTables(ctx, cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB
	app.Tables = tables

	app.Reconciler = schema.NewReconciler(exec, logger)
	app.Repo = records.NewRepository(tables, app.Reconciler, logger)
	app.Records = records.NewService(app.Repo, store, logger)
	app.Pipeline = ingest.New(store, app.Repo, ingest.Options{
		DocumentsBucket:   cfg.PapersBucket,
		AnnotationsBucket: cfg.SolutionsBucket,
	}, logger)
	app.Sweeper = sweep.New(store, app.Repo, app.Reconciler, cfg.PapersBucket, cfg.SolutionsBucket, logger)

	var pinger health.Pinger
	if sqlDB != nil {
		pinger = sqlDB
	}
	app.Health = health.NewService(pinger, store, cfg.PapersBucket, cfg.SolutionsBucket)

	if !opts.SkipRouter {
		app.Router = server.NewRouter(server.RouterDeps{
			Config:        cfg,
			Health:        app.Health,
			RecordHandler: records.NewHandler(app.Records),
			IngestHandler: ingest.NewHandler(app.Pipeline),
			SweepHandler:  sweep.NewHandler(app.Sweeper),
			FilesHandler:  files.NewHandler(store),
			Limiter:       middleware.NewRateLimiter(nil),
		})
	}

	return app, nil
}

// Close releases the database pool and flushes logs.
func (a *App) Close() {
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func buildBuckets(cfg config.Config) []object.Bucket {
	var out []object.Bucket
	for _, name := range []string{cfg.PapersBucket, cfg.SolutionsBucket} {
		b := object.NewDocumentBucket(name)
		if cfg.MaxUploadBytes > 0 {
			b.MaxBytes = cfg.MaxUploadBytes
		}
		b.AllowOverwrite = cfg.AllowOverwrite
		out = append(out, b)
	}
	return out
}

func buildStore(ctx context.Context, cfg config.Config, override object.Backend) (*object.Adapter, error) {
	buckets := buildBuckets(cfg)
	if override != nil {
		return object.NewAdapter(override, buckets...), nil
	}

	var (
		backend object.Backend
		err     error
	)
	switch cfg.ObjectStoreType {
	case "s3":
		backend, err = s3store.New(ctx, s3store.Options{
			Region:        cfg.AWSRegion,
			Bucket:        cfg.S3Bucket,
			Prefix:        cfg.S3Prefix,
			Endpoint:      cfg.S3Endpoint,
			KMSKeyID:      cfg.SSEKMSKeyID,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	case "gcs":
		backend, err = gcsstore.New(ctx, gcsstore.Options{
			ProjectID:     cfg.GCSProjectID,
			EmulatorHost:  cfg.GCSEmulatorHost,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	case "memory":
		backend = memstore.New().WithBaseURL(cfg.PublicBaseURL)
	default:
		backend = localstore.New(cfg.LocalStoreDir, cfg.PublicBaseURL)
	}
	if err != nil {
		return nil, fmt.Errorf("object store %s: %w", cfg.ObjectStoreType, err)
	}
	return object.NewAdapter(backend, buckets...), nil
}

func buildTables(ctx context.Context, cfg config.Config, opts Options, logger *telemetry.Logger) (records.Tables, schema.Executor, *sql.DB, error) {
	if opts.Tables != nil {
		exec, ok := opts.Tables.(schema.Executor)
		if !ok {
			return nil, nil, nil, fmt.Errorf("tables override %T cannot reconcile schema", opts.Tables)
		}
		return opts.Tables, exec, nil, nil
	}

	sqlDB, err := buildDB(ctx, cfg, opts, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if sqlDB == nil {
		mem := records.NewMemoryTables()
		return mem, mem, nil, nil
	}
	return &records.PGTables{DB: sqlDB}, &schema.PGExecutor{DB: sqlDB}, sqlDB, nil
}

func buildDB(ctx context.Context, cfg config.Config, opts Options, logger *telemetry.Logger) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			logger.Warn("DATABASE_URL empty; using in-memory records")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	dbOpts := db.OptionsFromEnv(db.DefaultServerOptions())
	if opts.DBOptions != nil {
		dbOpts = *opts.DBOptions
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, dbOpts)
	if err != nil {
		if isDevLike(cfg.Env) {
			logger.Warn("database connect failed; using in-memory records", "error", err)
			return nil, nil
		}
		return nil, err
	}

	if cfg.AutoMigrate {
		res, err := db.RunMigrations(ctx, sqlDB)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if res.Applied() {
			logger.Info("migrations applied", "from", res.From, "to", res.To)
		}
	}
	return sqlDB, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}
