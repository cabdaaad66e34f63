package commands

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nijaru/yt-analyze/backend"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/manifest"
	"github.com/nijaru/yt-analyze/metrics"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/pipeline"
	"github.com/nijaru/yt-analyze/repository/sqlite"
)

type analyzeOptions struct {
	output           string
	downloadDir      string
	backends         string
	delay            time.Duration
	concurrency      int
	resume           string
	checkpointOutput bool
	metricsFile      string
}

func newAnalyzeCommand(a *app) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <manifest>",
		Short: "Run the selected backends over every entry of a manifest",
		Long: `Analyze reads a JSON or YAML manifest of video sources, fetches each source
once and runs every selected backend on it. One result is recorded per
(entry, backend) pair; a failing pair never stops the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyAnalyzeFlags(cmd, a, opts)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.analyze(ctx, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "result manifest path (default $OUTPUT_PATH)")
	f.StringVar(&opts.downloadDir, "download-dir", "", "directory for downloaded videos (default $DOWNLOAD_DIR)")
	f.StringVar(&opts.backends, "backends", "", "comma-separated default backends for entries that name none")
	f.DurationVar(&opts.delay, "delay", 0, "minimum time between entry starts (default $PIPELINE_DELAY)")
	f.IntVar(&opts.concurrency, "concurrency", 0, "entries processed at once (default $PIPELINE_CONCURRENCY)")
	f.StringVar(&opts.resume, "resume", "", "reuse successful results of an earlier run id")
	f.BoolVar(&opts.checkpointOutput, "checkpoint-output", false, "rewrite the output manifest after every entry")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus textfile metrics here")

	return cmd
}

// applyAnalyzeFlags overrides config values with flags the user set.
func applyAnalyzeFlags(cmd *cobra.Command, a *app, opts *analyzeOptions) {
	f := cmd.Flags()
	if f.Changed("output") {
		a.cfg.OutputPath = opts.output
	}
	if f.Changed("download-dir") {
		a.cfg.Fetch.DownloadDir = opts.downloadDir
	}
	if f.Changed("backends") {
		a.cfg.Pipeline.DefaultBackends = strings.Split(opts.backends, ",")
	}
	if f.Changed("delay") {
		a.cfg.Pipeline.Delay = opts.delay
	}
	if f.Changed("concurrency") {
		a.cfg.Pipeline.Concurrency = opts.concurrency
	}
	if f.Changed("metrics-file") {
		a.cfg.MetricsFile = opts.metricsFile
	}
	if opts.resume != "" {
		a.cfg.Checkpoint.Enabled = true
	}
}

func (a *app) analyze(ctx context.Context, manifestPath string, opts *analyzeOptions) error {
	const op = "commands.analyze"

	if err := a.cfg.Validate(); err != nil {
		return err
	}

	defaults, err := a.cfg.Backends()
	if err != nil {
		return errors.Config(op, err, "invalid default backends")
	}

	entries, err := manifest.Read(manifestPath)
	if err != nil {
		a.log.WithError(err).WithField("manifest", manifestPath).Error("Failed to read manifest")
		return err
	}

	fetcher, err := a.fetcher(ctx, a.cfg.Fetch.DownloadDir)
	if err != nil {
		return err
	}

	registry := backend.FromConfig(a.cfg.Providers, a.mediaTools(), a.log)
	recorder := metrics.NewRecorder()
	runID := uuid.NewString()
	startedAt := time.Now()

	runnerOpts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithObserver(recorder),
	}

	var repo *sqlite.Repository
	if a.cfg.Checkpoint.Enabled {
		repo, err = sqlite.Open(ctx, a.cfg.Checkpoint.Path)
		if err != nil {
			return err
		}
		defer repo.Close()

		if err := repo.StartRun(ctx, runID, manifestPath, startedAt); err != nil {
			return err
		}
		runnerOpts = append(runnerOpts, pipeline.WithCheckpoint(repo))
	}

	if opts.checkpointOutput {
		runnerOpts = append(runnerOpts, pipeline.OnEntryDone(a.partialWriter(runID, startedAt)))
	}

	runner := pipeline.New(pipeline.Config{
		RunID:           runID,
		DefaultBackends: defaults,
		Delay:           a.cfg.Pipeline.Delay,
		Concurrency:     a.cfg.Pipeline.Concurrency,
		ResumeRunID:     opts.resume,
	}, fetcher, registry, runnerOpts...)

	result, runErr := runner.Run(ctx, entries)

	if err := manifest.Write(a.cfg.OutputPath, result); err != nil {
		a.log.WithError(err).WithField("output", a.cfg.OutputPath).Error("Failed to write results")
		return err
	}

	// The run may have been interrupted; bookkeeping still happens.
	finishCtx := context.WithoutCancel(ctx)

	if repo != nil {
		if err := repo.FinishRun(finishCtx, runID, result.FinishedAt); err != nil {
			a.log.WithError(err).Warn("Failed to mark run finished")
		}
	}

	if a.cfg.Storage.Bucket != "" {
		if err := a.uploadManifest(finishCtx, result); err != nil {
			return err
		}
	}

	if a.cfg.MetricsFile != "" {
		recorder.RunFinished()
		if err := recorder.WriteTextfile(a.cfg.MetricsFile); err != nil {
			a.log.WithError(err).Warn("Failed to write metrics")
		}
	}

	succeeded, failed := result.Totals()
	a.log.WithFields(logrus.Fields{
		"run_id":    runID,
		"output":    a.cfg.OutputPath,
		"entries":   len(result.Entries),
		"succeeded": succeeded,
		"failed":    failed,
	}).Info("Results written")

	if runErr != nil {
		return errors.Wrap(runErr, "run interrupted")
	}
	return nil
}

func (a *app) uploadManifest(ctx context.Context, result *models.ResultManifest) error {
	data, err := manifest.Encode(result)
	if err != nil {
		return err
	}

	client, err := a.storageClient(ctx)
	if err != nil {
		return err
	}

	uri, err := client.PutManifest(ctx, result.RunID, data)
	if err != nil {
		a.log.WithError(err).Error("Failed to upload results")
		return err
	}
	a.log.WithField("uri", uri).Info("Results uploaded")
	return nil
}

// partialWriter rewrites the output manifest, in input order, each time an
// entry completes.
func (a *app) partialWriter(runID string, startedAt time.Time) func(int, models.EntryResults) {
	var mu sync.Mutex
	done := make(map[int]models.EntryResults)

	return func(index int, er models.EntryResults) {
		mu.Lock()
		defer mu.Unlock()

		done[index] = er
		indexes := make([]int, 0, len(done))
		for i := range done {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)

		partial := &models.ResultManifest{RunID: runID, StartedAt: startedAt.UTC()}
		for _, i := range indexes {
			partial.Append(done[i])
		}

		if err := manifest.Write(a.cfg.OutputPath, partial); err != nil {
			a.log.WithError(err).Warn("Failed to write partial results")
		}
	}
}
