package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// goose keeps its dialect and filesystem in package globals.
var gooseMu sync.Mutex

// MigrationResult is the goose version before and after a run.
type MigrationResult struct {
	From int64
	To   int64
}

// Applied reports whether the run moved the schema forward.
func (r MigrationResult) Applied() bool { return r.To > r.From }

// RunMigrations brings the baseline tables and the unique blob index up to
// date. Columns added later are grown at runtime by the schema reconciler.
// A nil database is a no-op.
func RunMigrations(ctx context.Context, database *sql.DB) (MigrationResult, error) {
	var res MigrationResult
	if database == nil {
		return res, nil
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return res, err
	}

	from, err := goose.GetDBVersionContext(ctx, database)
	if err != nil {
		return res, fmt.Errorf("read schema version: %w", err)
	}
	res.From, res.To = from, from
	if err := goose.UpContext(ctx, database, "migrations"); err != nil {
		return res, err
	}
	to, err := goose.GetDBVersionContext(ctx, database)
	if err != nil {
		return res, fmt.Errorf("read schema version: %w", err)
	}
	res.To = to
	return res, nil
}
