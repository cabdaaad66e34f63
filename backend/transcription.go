package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openai/openai-go"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
)

type AudioExtractor interface {
	ExtractAudio(ctx context.Context, input, output string) error
}

// Transcription extracts the audio track and transcribes it, retrying once
// with a fallback model when the primary model fails.
type Transcription struct {
	cfg    TranscriptionConfig
	audio  AudioExtractor
	client openai.Client
	log    logrus.FieldLogger
}

var _ Analyzer = (*Transcription)(nil)

func NewTranscription(cfg TranscriptionConfig, audio AudioExtractor, log logrus.FieldLogger) *Transcription {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg = cfg.withDefaults()
	return &Transcription{
		cfg:    cfg,
		audio:  audio,
		client: newOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout),
		log:    log,
	}
}

func (t *Transcription) Name() models.Backend { return models.BackendTranscription }

func (t *Transcription) Analyze(ctx context.Context, file models.MediaFile, opts models.Options) (Output, error) {
	const op = "Transcription.Analyze"

	if t.cfg.APIKey == "" {
		return Output{}, missingKey(op, t.Name())
	}

	primary := firstSet(opts.TranscriptionModel, t.cfg.Model)
	fallback := firstSet(opts.FallbackModel, t.cfg.FallbackModel)

	dir, err := os.MkdirTemp("", "yt-analyze-audio-*")
	if err != nil {
		return Output{}, errors.FrameExtraction(op, err, "failed to create audio work dir")
	}
	defer os.RemoveAll(dir)

	audioPath := filepath.Join(dir, "audio.mp3")
	if err := t.audio.ExtractAudio(ctx, file.Path, audioPath); err != nil {
		if errors.IsFrameExtraction(err) {
			return Output{}, err
		}
		return Output{}, errors.FrameExtraction(op, err, "failed to extract audio")
	}

	logger := t.log.WithFields(logrus.Fields{
		"entry": file.EntryID,
		"model": primary,
	})

	text, err := t.transcribe(ctx, audioPath, primary)
	if err == nil {
		logger.Info("Transcription completed")
		return Output{Text: text, Model: primary}, nil
	}
	if fallback == "" || fallback == primary {
		return Output{}, errors.Provider(op, err, fmt.Sprintf("transcription with %s failed", primary))
	}

	logger.WithError(err).WithField("fallback", fallback).Warn("Primary transcription model failed, trying fallback")

	text, fallbackErr := t.transcribe(ctx, audioPath, fallback)
	if fallbackErr != nil {
		return Output{}, errors.Provider(op, fallbackErr,
			fmt.Sprintf("transcription with %s failed (%v); fallback %s failed", primary, err, fallback))
	}

	logger.WithField("fallback", fallback).Info("Transcription completed with fallback model")
	return Output{Text: text, Model: fallback}, nil
}

func (t *Transcription) transcribe(ctx context.Context, path, model string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(model),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
