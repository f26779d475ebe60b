// Command papersctl runs maintenance tasks against the configured stores.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"papers-backend/internal/bootstrap"
	"papers-backend/internal/shared/config"
	"papers-backend/internal/shared/storage/db"
	"papers-backend/internal/shared/telemetry"
)

// buildApp is swapped in tests.
var buildApp = func(ctx context.Context) (*bootstrap.App, error) {
	cfg := config.Load()
	logger, err := telemetry.New(cfg.Env)
	if err != nil {
		return nil, err
	}
	cliDB := db.OptionsFromEnv(db.DefaultCLIOptions())
	return bootstrap.BuildWith(ctx, cfg, bootstrap.Options{
		Logger:     logger,
		DBOptions:  &cliDB,
		SkipRouter: true,
	})
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "papersctl",
		Short: "Maintenance tool for the past-papers store",
		Long: `Maintenance tool for the past-papers store.

Reads the same environment as the API server (DATABASE_URL, OBJECT_STORE,
PAPERS_BUCKET, SOLUTIONS_BUCKET, ...).`,
		SilenceUsage: true,
	}
	root.AddCommand(newSweepCmd(), newSchemaCmd(), newBucketsCmd(), newFilesCmd())
	return root
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App, out io.Writer) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := buildApp(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	return fn(ctx, app, cmd.OutOrStdout())
}
