package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nijaru/yt-analyze/backend"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
)

type probeOptions struct {
	video, audio       string
	gemini, vision     bool
	transcribe, all    bool
	frames             int
	geminiModel        string
	visionModel        string
	transcriptionModel string
}

var probeTitles = map[models.Backend]string{
	models.BackendGeminiVideo:   "Gemini Video Analysis",
	models.BackendFrameSampling: "OpenAI Vision (sampled frames)",
	models.BackendTranscription: "OpenAI Audio Transcription",
}

func newProbeCommand(a *app) *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Try each backend on a single local file",
		Long: `Probe runs the chosen backends once against a local video (and optionally a
separate audio file) and prints each answer, to check keys and models.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.probe(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.video, "video", "", "path to a video file")
	f.StringVar(&opts.audio, "audio", "", "path to an audio file for transcription (defaults to --video)")
	f.BoolVar(&opts.gemini, "gemini", false, "run Gemini video analysis")
	f.BoolVar(&opts.vision, "openai-vision", false, "run OpenAI vision on sampled frames")
	f.BoolVar(&opts.transcribe, "openai-audio", false, "run OpenAI audio transcription")
	f.BoolVar(&opts.all, "all", false, "run every backend the inputs allow")
	f.IntVar(&opts.frames, "num-frames", 0, "frames to sample for OpenAI vision")
	f.StringVar(&opts.geminiModel, "gemini-model", "", "Gemini model name")
	f.StringVar(&opts.visionModel, "openai-vision-model", "", "OpenAI vision-capable model")
	f.StringVar(&opts.transcriptionModel, "openai-asr-model", "", "OpenAI transcription model")

	return cmd
}

func (a *app) probe(cmd *cobra.Command, opts *probeOptions) error {
	const op = "commands.probe"

	selected := opts.selected()
	if len(selected) == 0 {
		return errors.Config(op, nil, "choose at least one of --gemini, --openai-vision, --openai-audio or --all")
	}

	registry := backend.FromConfig(a.cfg.Providers, a.mediaTools(), a.log)
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	failed := 0
	for _, b := range selected {
		title := probeTitles[b]

		path := opts.video
		if b == models.BackendTranscription && opts.audio != "" {
			path = opts.audio
		}
		if path == "" {
			fmt.Fprintf(errOut, "[%s] --video is required\n", title)
			failed++
			continue
		}

		analyzer, _ := registry.Get(b)
		file := models.MediaFile{
			EntryID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Path:    path,
		}
		result := backend.Invoke(cmd.Context(), analyzer, file, opts.options(b))
		if !result.Success {
			fmt.Fprintf(errOut, "[%s] Error: %s\n", title, result.Error)
			failed++
			continue
		}

		fmt.Fprintf(out, "\n=== %s (%s) ===\n\n%s\n", title, result.Model, result.Payload)
	}

	if failed > 0 {
		return errors.Provider(op, nil, fmt.Sprintf("%d of %d probes failed", failed, len(selected)))
	}
	return nil
}

func (o *probeOptions) selected() []models.Backend {
	var out []models.Backend
	if o.gemini || (o.all && o.video != "") {
		out = append(out, models.BackendGeminiVideo)
	}
	if o.vision || (o.all && o.video != "") {
		out = append(out, models.BackendFrameSampling)
	}
	if o.transcribe || (o.all && (o.video != "" || o.audio != "")) {
		out = append(out, models.BackendTranscription)
	}
	return out
}

func (o *probeOptions) options(b models.Backend) models.Options {
	switch b {
	case models.BackendGeminiVideo:
		return models.Options{Model: o.geminiModel}
	case models.BackendFrameSampling:
		return models.Options{Model: o.visionModel, FrameCount: o.frames}
	default:
		return models.Options{TranscriptionModel: o.transcriptionModel}
	}
}
