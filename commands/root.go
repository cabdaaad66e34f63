// Package commands holds the yt-analyze CLI.
package commands

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nijaru/yt-analyze/backend"
	"github.com/nijaru/yt-analyze/config"
	"github.com/nijaru/yt-analyze/fetch"
	"github.com/nijaru/yt-analyze/logger"
	"github.com/nijaru/yt-analyze/media"
	"github.com/nijaru/yt-analyze/scripts"
	"github.com/nijaru/yt-analyze/storage"
)

type globalOptions struct {
	configPath string
	debug      bool
	logDir     string
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	opts   globalOptions
	cfg    *config.Config
	log    *logrus.Logger
	closer io.Closer
}

func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "yt-analyze",
		Short: "Batch video analysis with Gemini and OpenAI",
		Long: `yt-analyze reads a manifest of videos, fetches each one once and runs the
selected analysis backends on it, writing one JSON result manifest per run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "TOML config file (default $CONFIG_FILE)")
	flags.BoolVar(&a.opts.debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.opts.logDir, "log-dir", "", "also write rotated logs to this directory")

	root.AddCommand(
		newAnalyzeCommand(a),
		newProbeCommand(a),
		newClipCommand(a),
		newDownloadCommand(a),
	)

	cobra.OnFinalize(a.close)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		return 1
	}
	return 0
}

func (a *app) init(stderr io.Writer) error {
	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return err
	}
	if a.opts.debug {
		cfg.Debug = true
	}
	if a.opts.logDir != "" {
		cfg.LogDir = a.opts.logDir
	}

	log, closer, err := logger.NewLogger(logger.Options{
		Dir:    cfg.LogDir,
		Debug:  cfg.Debug,
		Format: cfg.LogFormat,
		Out:    stderr,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	a.closer = closer
	return nil
}

func (a *app) close() {
	if a.closer != nil {
		a.closer.Close()
		a.closer = nil
	}
}

// mediaTools returns the ffmpeg executor, or a stand-in that fails every
// call with the lookup error so runs still produce a result per pair.
func (a *app) mediaTools() backend.MediaTools {
	exec, err := media.New(a.log, scripts.NewRunner(a.log), a.cfg.Media.FFmpegPath, a.cfg.Media.FFprobePath)
	if err != nil {
		a.log.WithError(err).Warn("ffmpeg unavailable; frame-sampling and transcription will fail")
		return media.Unavailable{Err: err}
	}
	return exec
}

func (a *app) storageClient(ctx context.Context) (*storage.Client, error) {
	s := a.cfg.Storage
	return storage.NewClient(ctx, storage.Config{
		AccessKey:    s.AccessKey,
		SecretKey:    s.SecretKey,
		Region:       s.Region,
		Endpoint:     s.Endpoint,
		Bucket:       s.Bucket,
		Prefix:       s.Prefix,
		UsePathStyle: s.UsePathStyle,
	}, a.log)
}

func (a *app) fetcher(ctx context.Context, dir string) (*fetch.Fetcher, error) {
	opts := []fetch.Option{
		fetch.WithHTTP(fetch.NewHTTPDownloader(a.cfg.Fetch.Timeout)),
		fetch.WithYTDLP(fetch.NewYTDLPDownloader(
			a.cfg.Fetch.YTDLPPath,
			a.cfg.Fetch.YTDLPFormat,
			scripts.NewRunner(a.log),
			a.log,
		)),
	}

	if s3, err := a.storageClient(ctx); err != nil {
		a.log.WithError(err).Warn("S3 unavailable; s3:// sources will fail")
	} else {
		opts = append(opts, fetch.WithS3(s3))
	}

	return fetch.New(dir, a.log, opts...)
}
