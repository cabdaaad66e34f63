// Package pipeline drives a batch: fetch each entry once, run every selected
// backend on it and collect one Result per (entry, backend) pair.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nijaru/yt-analyze/backend"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/validation"
)

type Fetcher interface {
	Fetch(ctx context.Context, entry models.Entry) (models.MediaFile, error)
}

// Checkpoint stores results as they are produced.
type Checkpoint interface {
	SaveResult(ctx context.Context, runID string, result models.Result) error
	FindResult(ctx context.Context, runID, entryID string, b models.Backend) (*models.Result, error)
}

type Observer interface {
	ObserveResult(result models.Result)
	ObserveFetch(file models.MediaFile, remote bool, err error)
	ObserveEntry()
}

type Config struct {
	RunID           string
	DefaultBackends []models.Backend
	// Delay is the minimum spacing between entry starts. Zero disables it.
	Delay       time.Duration
	Concurrency int
	// ResumeRunID names an earlier run whose successful results are reused.
	ResumeRunID string
}

type Runner struct {
	cfg      Config
	fetcher  Fetcher
	registry *backend.Registry
	log      logrus.FieldLogger
	limiter  *rate.Limiter

	checkpoint  Checkpoint
	observer    Observer
	onResult    func(models.Result)
	onEntryDone func(index int, er models.EntryResults)

	notifyMu sync.Mutex
}

type Option func(*Runner)

func WithCheckpoint(c Checkpoint) Option { return func(r *Runner) { r.checkpoint = c } }
func WithObserver(o Observer) Option     { return func(r *Runner) { r.observer = o } }
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}

// OnResult is called for every Result, including resumed ones.
func OnResult(fn func(models.Result)) Option { return func(r *Runner) { r.onResult = fn } }

// OnEntryDone is called once an entry has all of its results. Calls are
// serialized but may arrive out of input order when Concurrency > 1.
func OnEntryDone(fn func(index int, er models.EntryResults)) Option {
	return func(r *Runner) { r.onEntryDone = fn }
}

func New(cfg Config, fetcher Fetcher, registry *backend.Registry, opts ...Option) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if len(cfg.DefaultBackends) == 0 {
		cfg.DefaultBackends = []models.Backend{models.BackendGeminiVideo}
	}

	r := &Runner{
		cfg:      cfg,
		fetcher:  fetcher,
		registry: registry,
		log:      logrus.StandardLogger(),
	}
	if cfg.Delay > 0 {
		r.limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) RunID() string { return r.cfg.RunID }

// Run processes entries and returns their results in input order. A failing
// pair never stops the run. When ctx is cancelled no new entries or pairs
// are started and the results collected so far are returned with ctx.Err().
func (r *Runner) Run(ctx context.Context, entries []models.Entry) (*models.ResultManifest, error) {
	manifest := &models.ResultManifest{
		RunID:     r.cfg.RunID,
		StartedAt: time.Now().UTC(),
	}
	slots := make([]*models.EntryResults, len(entries))

	r.log.WithFields(logrus.Fields{
		"run_id":      r.cfg.RunID,
		"entries":     len(entries),
		"concurrency": r.cfg.Concurrency,
		"resume":      r.cfg.ResumeRunID,
	}).Info("Starting run")

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	for i, entry := range entries {
		if err := r.wait(ctx); err != nil {
			break
		}

		i, entry := i, entry
		g.Go(func() error {
			er, ok := r.processEntry(ctx, entry)
			if !ok {
				return nil
			}
			slots[i] = &er
			r.entryDone(i, er)
			return nil
		})
	}
	g.Wait()

	for _, slot := range slots {
		if slot != nil {
			manifest.Append(*slot)
		}
	}
	manifest.FinishedAt = time.Now().UTC()

	succeeded, failed := manifest.Totals()
	r.log.WithFields(logrus.Fields{
		"run_id":    r.cfg.RunID,
		"entries":   len(manifest.Entries),
		"succeeded": succeeded,
		"failed":    failed,
	}).Info("Run finished")

	return manifest, ctx.Err()
}

func (r *Runner) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// processEntry fetches entry at most once and invokes each backend in order.
// It reports false when cancellation left the entry with no results.
func (r *Runner) processEntry(ctx context.Context, entry models.Entry) (models.EntryResults, bool) {
	er := models.EntryResults{
		ID:      entry.ID,
		Source:  entry.Source,
		Tag:     entry.Tag,
		Remarks: entry.Remarks,
	}

	backends := entry.Backends
	if len(backends) == 0 {
		backends = r.cfg.DefaultBackends
	}

	logger := r.log.WithFields(logrus.Fields{
		"entry":  entry.ID,
		"source": entry.Source,
	})

	var (
		file       models.MediaFile
		fetchErr   error
		fetched    bool
		fetchStart time.Time
		fetchTook  time.Duration
	)

	for _, b := range backends {
		if prev := r.resumed(ctx, entry.ID, b); prev != nil {
			logger.WithField("backend", b).Info("Reusing result from previous run")
			r.record(ctx, *prev)
			er.Results = append(er.Results, *prev)
			continue
		}

		if ctx.Err() != nil {
			break
		}

		if !fetched {
			fetchStart = time.Now()
			file, fetchErr = r.fetcher.Fetch(ctx, entry)
			fetchTook = time.Since(fetchStart)
			fetched = true
			file.EntryID = entry.ID
			if r.observer != nil {
				r.observer.ObserveFetch(file, validation.IsRemote(entry.Source), fetchErr)
			}
			if fetchErr != nil {
				logger.WithError(fetchErr).Warn("Fetch failed")
			}
		}

		var result models.Result
		if fetchErr != nil {
			result = models.NewFailure(entry.ID, b, fetchErr, fetchStart, fetchTook)
		} else {
			result = r.invoke(ctx, b, file, entry.OptionsFor(b))
		}

		fields := logrus.Fields{"backend": b, "duration_ms": result.DurationMS}
		if result.Success {
			logger.WithFields(fields).Info("Backend succeeded")
		} else {
			logger.WithFields(fields).WithField("error_kind", result.ErrorKind).Warn(result.Error)
		}

		r.record(ctx, result)
		er.Results = append(er.Results, result)
	}

	if len(er.Results) == 0 {
		return er, false
	}
	if r.observer != nil {
		r.observer.ObserveEntry()
	}
	return er, true
}

func (r *Runner) invoke(ctx context.Context, b models.Backend, file models.MediaFile, opts models.Options) models.Result {
	const op = "Runner.invoke"

	a, ok := r.registry.Get(b)
	if !ok {
		err := errors.Provider(op, nil, fmt.Sprintf("backend %s is not configured", b))
		return models.NewFailure(file.EntryID, b, err, time.Now(), 0)
	}
	return backend.Invoke(ctx, a, file, opts)
}

// resumed returns the successful result of the resumed run for the pair, if
// any. Failures are always re-attempted.
func (r *Runner) resumed(ctx context.Context, entryID string, b models.Backend) *models.Result {
	if r.checkpoint == nil || r.cfg.ResumeRunID == "" {
		return nil
	}

	prev, err := r.checkpoint.FindResult(ctx, r.cfg.ResumeRunID, entryID, b)
	if err != nil {
		if !errors.IsNotFound(err) {
			r.log.WithError(err).WithFields(logrus.Fields{
				"entry":   entryID,
				"backend": b,
			}).Warn("Failed to read checkpoint")
		}
		return nil
	}
	if !prev.Success {
		return nil
	}

	prev.EntryID = entryID
	prev.Resumed = true
	return prev
}

func (r *Runner) record(ctx context.Context, result models.Result) {
	if r.checkpoint != nil {
		// Saved even after cancellation.
		if err := r.checkpoint.SaveResult(context.WithoutCancel(ctx), r.cfg.RunID, result); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"entry":   result.EntryID,
				"backend": result.Backend,
			}).Warn("Failed to save checkpoint")
		}
	}
	if r.observer != nil {
		r.observer.ObserveResult(result)
	}
	if r.onResult != nil {
		r.notifyMu.Lock()
		r.onResult(result)
		r.notifyMu.Unlock()
	}
}

func (r *Runner) entryDone(index int, er models.EntryResults) {
	if r.onEntryDone == nil {
		return
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.onEntryDone(index, er)
}
