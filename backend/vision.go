package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/media"
	"github.com/nijaru/yt-analyze/models"
)

type FrameSampler interface {
	SampleFrames(ctx context.Context, path string, n int) ([]media.Frame, error)
}

// FrameSampling sends evenly spaced JPEG frames to an OpenAI vision model in
// a single chat completion.
type FrameSampling struct {
	cfg    VisionConfig
	frames FrameSampler
	client openai.Client
	log    logrus.FieldLogger
}

var _ Analyzer = (*FrameSampling)(nil)

func NewFrameSampling(cfg VisionConfig, frames FrameSampler, log logrus.FieldLogger) *FrameSampling {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg = cfg.withDefaults()
	return &FrameSampling{
		cfg:    cfg,
		frames: frames,
		client: newOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout),
		log:    log,
	}
}

func (v *FrameSampling) Name() models.Backend { return models.BackendFrameSampling }

func (v *FrameSampling) Analyze(ctx context.Context, file models.MediaFile, opts models.Options) (Output, error) {
	const op = "FrameSampling.Analyze"

	if v.cfg.APIKey == "" {
		return Output{}, missingKey(op, v.Name())
	}

	model := opts.Model
	if model == "" {
		model = v.cfg.Model
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = v.cfg.Prompt
	}
	n := opts.FrameCount
	if n <= 0 {
		n = v.cfg.FrameCount
	}

	frames, err := v.frames.SampleFrames(ctx, file.Path, n)
	if err != nil {
		if errors.IsFrameExtraction(err) {
			return Output{}, err
		}
		return Output{}, errors.FrameExtraction(op, err, "failed to sample frames")
	}
	if len(frames) == 0 {
		return Output{}, errors.FrameExtraction(op, nil, fmt.Sprintf("no frames extracted from %s", file.Path))
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(frames)+1)
	parts = append(parts, openai.TextContentPart(prompt))
	for _, f := range frames {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: media.DataURL(f.Data),
		}))
	}

	resp, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return Output{}, errors.Provider(op, err, "vision request failed")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Output{}, errors.Provider(op, nil, "vision model returned an empty response")
	}

	v.log.WithFields(logrus.Fields{
		"entry":  file.EntryID,
		"model":  model,
		"frames": len(frames),
	}).Info("Frame analysis completed")

	return Output{Text: resp.Choices[0].Message.Content, Model: model}, nil
}
