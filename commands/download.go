package commands

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/manifest"
)

func newDownloadCommand(a *app) *cobra.Command {
	var (
		dir     string
		format  string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "download <manifest>",
		Short: "Fetch every manifest source into the download directory",
		Long: `Download runs only the fetch stage: every source is downloaded once into the
download directory, and files already there are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "commands.download"

			if cmd.Flags().Changed("download-dir") {
				a.cfg.Fetch.DownloadDir = dir
			}
			if cmd.Flags().Changed("format") {
				a.cfg.Fetch.YTDLPFormat = format
			}
			if workers < 1 {
				return errors.Config(op, nil, "--workers must be at least 1")
			}

			entries, err := manifest.Read(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			fetcher, err := a.fetcher(ctx, a.cfg.Fetch.DownloadDir)
			if err != nil {
				return err
			}

			var failed int32
			var g errgroup.Group
			g.SetLimit(workers)
			paths := make([]string, len(entries))

			for i, entry := range entries {
				i, entry := i, entry
				g.Go(func() error {
					file, err := fetcher.Fetch(ctx, entry)
					logger := a.log.WithFields(logrus.Fields{"entry": entry.ID, "source": entry.Source})
					if err != nil {
						atomic.AddInt32(&failed, 1)
						logger.WithError(err).Error("Download failed")
						return nil
					}
					paths[i] = file.Path
					logger.WithFields(logrus.Fields{"path": file.Path, "cached": file.Cached}).Info("Downloaded")
					return nil
				})
			}
			g.Wait()

			out := cmd.OutOrStdout()
			for i, entry := range entries {
				if paths[i] != "" {
					fmt.Fprintf(out, "%s\t%s\n", entry.ID, paths[i])
				}
			}

			if failed > 0 {
				return errors.FetchFailed(op, nil, fmt.Sprintf("%d of %d downloads failed", failed, len(entries)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "download-dir", "", "download directory (default $DOWNLOAD_DIR)")
	cmd.Flags().StringVar(&format, "format", "", "yt-dlp format selector (default $YTDLP_FORMAT)")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent downloads")
	return cmd
}
