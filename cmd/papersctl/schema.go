package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"papers-backend/internal/bootstrap"
	"papers-backend/internal/records"
	"papers-backend/internal/schema"
)

var tables = []string{records.TableDocuments, records.TableAnnotations}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect or grow engine-managed columns",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "ensure",
			Short: "Add missing engine-managed columns",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, runSchemaEnsure)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "List engine-managed columns that are missing, without changing anything",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, runSchemaCheck)
			},
		},
	)
	return cmd
}

func runSchemaEnsure(ctx context.Context, app *bootstrap.App, out io.Writer) error {
	var failed []string
	for _, table := range tables {
		rep := app.Reconciler.EnsureColumns(ctx, table, records.ColumnsFor(table))
		fmt.Fprintf(out, "%s: added=%s existing=%d\n", table, list(rep.Added), len(rep.Existing))
		for _, col := range rep.FailedColumns() {
			failed = append(failed, table+"."+col)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("columns could not be added: %s", strings.Join(failed, ", "))
	}
	return nil
}

func runSchemaCheck(ctx context.Context, app *bootstrap.App, out io.Writer) error {
	var missing []string
	for _, table := range tables {
		cols, err := app.Reconciler.Verify(ctx, table, schema.Names(records.ColumnsFor(table)))
		if err != nil {
			return fmt.Errorf("%s: %w", table, err)
		}
		fmt.Fprintf(out, "%s: missing=%s\n", table, list(cols))
		for _, col := range cols {
			missing = append(missing, table+"."+col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%d engine-managed columns missing", len(missing))
	}
	return nil
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
