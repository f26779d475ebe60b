package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"papers-backend/internal/bootstrap"
	"papers-backend/internal/files"
)

var lsFlags struct {
	bucket   string
	fileType string
	long     bool
	human    bool
}

func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect stored files",
	}
	ls := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored files, newest first",
		Long: `Lists the blobs of one bucket, or of every declared bucket, newest first.
Without --long only bucket/key is printed, one per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, runFilesLs)
		},
	}
	ls.Flags().StringVar(&lsFlags.bucket, "bucket", "", "only list this bucket")
	ls.Flags().StringVar(&lsFlags.fileType, "type", "", "only list this file type (pdf, doc or docx)")
	ls.Flags().BoolVarP(&lsFlags.long, "long", "l", false, "print size, creation time and URL")
	ls.Flags().BoolVarP(&lsFlags.human, "human", "H", false, "print sizes in human-readable form (with --long)")
	cmd.AddCommand(ls)
	return cmd
}

func runFilesLs(ctx context.Context, app *bootstrap.App, out io.Writer) error {
	entries, err := files.List(ctx, app.Store, files.Filter{Bucket: lsFlags.bucket, FileType: lsFlags.fileType})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !lsFlags.long {
			fmt.Fprintf(out, "%s/%s\n", e.Bucket, e.Key)
			continue
		}
		size := fmt.Sprintf("%d", e.Size)
		if lsFlags.human {
			size = humanize.IBytes(uint64(e.Size))
		}
		fmt.Fprintf(out, "%s/%s\t%s\t%s\t%s\n", e.Bucket, e.Key, size, e.CreatedAt.Format(time.RFC3339), e.PublicURL)
	}
	return nil
}
