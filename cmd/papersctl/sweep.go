package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"papers-backend/internal/bootstrap"
)

func newSweepCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile blobs and records once",
		Long: `Runs the consistency sweep once:

1. Ensures engine-managed columns exist
2. Creates records for blobs that have none
3. Marks records whose blob is gone as failed
4. Deletes solutions left behind by an interrupted paper delete
5. Backfills title, category and status on incomplete records`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App, out io.Writer) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				rep, err := app.Sweeper.Run(ctx)
				fmt.Fprintf(out, "repaired orphan blobs:        %d\n", rep.RepairedOrphanBlobs)
				fmt.Fprintf(out, "resolved cascade annotations: %d\n", rep.ResolvedCascadeAnnotations)
				fmt.Fprintf(out, "marked failed records:        %d\n", rep.MarkedFailedRecords)
				fmt.Fprintf(out, "backfilled records:           %d\n", rep.BackfilledRecords)
				fmt.Fprintf(out, "unmatched annotation blobs:   %d\n", rep.UnmatchedAnnotationBlobs)
				for _, col := range rep.SchemaFailures {
					fmt.Fprintf(out, "schema failure:               %s\n", col)
				}
				fmt.Fprintf(out, "duration:                     %s\n", rep.Duration.Round(time.Millisecond))
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the sweep after this long")
	return cmd
}
