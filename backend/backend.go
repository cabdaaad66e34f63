package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/config"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
)

// Output is the text an analyzer produced and the model that produced it.
type Output struct {
	Text  string
	Model string
}

// Analyzer turns one fetched video into provider text.
type Analyzer interface {
	Name() models.Backend
	Analyze(ctx context.Context, file models.MediaFile, opts models.Options) (Output, error)
}

type Registry struct {
	mu        sync.RWMutex
	analyzers map[models.Backend]Analyzer
}

func NewRegistry(analyzers ...Analyzer) *Registry {
	r := &Registry{analyzers: make(map[models.Backend]Analyzer)}
	for _, a := range analyzers {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[a.Name()] = a
}

func (r *Registry) Get(b models.Backend) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[b]
	return a, ok
}

// Invoke runs a against file and converts the outcome, including a panic,
// into exactly one Result.
func Invoke(ctx context.Context, a Analyzer, file models.MediaFile, opts models.Options) (result models.Result) {
	const op = "backend.Invoke"

	name := a.Name()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := errors.Internal(op, fmt.Errorf("%v", r), fmt.Sprintf("%s analyzer panicked", name))
			result = models.NewFailure(file.EntryID, name, err, start, time.Since(start))
		}
	}()

	out, err := a.Analyze(ctx, file, opts)
	if err != nil {
		var appErr *errors.AppError
		if !errors.As(err, &appErr) {
			err = errors.Provider(op, err, fmt.Sprintf("%s failed", name))
		}
		return models.NewFailure(file.EntryID, name, err, start, time.Since(start))
	}
	return models.NewSuccess(file.EntryID, name, out.Model, out.Text, start, time.Since(start))
}

func missingKey(op string, b models.Backend) error {
	return errors.Provider(op, nil, fmt.Sprintf("missing API key for %s", b))
}

// MediaTools is what the frame-sampling and transcription analyzers need
// from the media layer.
type MediaTools interface {
	FrameSampler
	AudioExtractor
}

// FromConfig registers every backend with credentials and models taken from
// cfg. Missing keys are reported per call, not here.
func FromConfig(cfg config.ProvidersConfig, tools MediaTools, log logrus.FieldLogger) *Registry {
	return NewRegistry(
		NewGeminiVideo(GeminiConfig{
			APIKey:       cfg.GoogleAPIKey,
			Model:        cfg.GeminiModel,
			Prompt:       cfg.GeminiPrompt,
			PollInterval: cfg.GeminiPollInterval,
			MaxWait:      cfg.GeminiMaxWait,
			BaseURL:      cfg.GeminiBaseURL,
			Timeout:      cfg.RequestTimeout,
		}, log),
		NewFrameSampling(VisionConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.VisionModel,
			Prompt:     cfg.VisionPrompt,
			FrameCount: cfg.FrameCount,
			BaseURL:    cfg.OpenAIBaseURL,
			Timeout:    cfg.RequestTimeout,
		}, tools, log),
		NewTranscription(TranscriptionConfig{
			APIKey:        cfg.OpenAIAPIKey,
			Model:         cfg.TranscriptionModel,
			FallbackModel: cfg.FallbackModel,
			BaseURL:       cfg.OpenAIBaseURL,
			Timeout:       cfg.RequestTimeout,
		}, tools, log),
	)
}
