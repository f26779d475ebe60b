package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"papers-backend/internal/bootstrap"
)

func newBucketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "Manage object buckets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the declared buckets and print their policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, runBucketsInit)
		},
	})
	return cmd
}

// runBucketsInit is idempotent; bootstrap already ensured the buckets once.
func runBucketsInit(ctx context.Context, app *bootstrap.App, out io.Writer) error {
	if err := app.Store.EnsureBuckets(ctx); err != nil {
		return err
	}
	for _, b := range app.Store.Buckets() {
		fmt.Fprintf(out, "%s: limit=%s public=%t overwrite=%t types=%v\n",
			b.Name, humanize.IBytes(uint64(b.Limit())), b.Public, b.AllowOverwrite, b.AllowedTypes)
	}
	return nil
}
