package backend

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
)

// geminiClient is the part of the genai SDK the video analyzer uses.
type geminiClient interface {
	Upload(ctx context.Context, r io.Reader, mimeType, displayName string) (*genai.File, error)
	GetFile(ctx context.Context, name string) (*genai.File, error)
	DeleteFile(ctx context.Context, name string) error
	Generate(ctx context.Context, model string, parts []*genai.Part) (string, error)
}

type genaiClient struct {
	client *genai.Client
}

func newGenaiClient(ctx context.Context, cfg GeminiConfig) (geminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &genaiClient{client: client}, nil
}

func (g *genaiClient) Upload(ctx context.Context, r io.Reader, mimeType, displayName string) (*genai.File, error) {
	return g.client.Files.Upload(ctx, r, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
}

func (g *genaiClient) GetFile(ctx context.Context, name string) (*genai.File, error) {
	return g.client.Files.Get(ctx, name, nil)
}

func (g *genaiClient) DeleteFile(ctx context.Context, name string) error {
	_, err := g.client.Files.Delete(ctx, name, nil)
	return err
}

func (g *genaiClient) Generate(ctx context.Context, model string, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{{Parts: parts, Role: genai.RoleUser}}
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GeminiVideo uploads the whole video to the Gemini Files API, waits for it
// to become active and asks the model about it.
type GeminiVideo struct {
	cfg GeminiConfig
	log logrus.FieldLogger

	mu        sync.Mutex
	client    geminiClient
	newClient func(ctx context.Context, cfg GeminiConfig) (geminiClient, error)
}

var _ Analyzer = (*GeminiVideo)(nil)

func NewGeminiVideo(cfg GeminiConfig, log logrus.FieldLogger) *GeminiVideo {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GeminiVideo{
		cfg:       cfg.withDefaults(),
		log:       log,
		newClient: newGenaiClient,
	}
}

func (g *GeminiVideo) Name() models.Backend { return models.BackendGeminiVideo }

func (g *GeminiVideo) getClient(ctx context.Context) (geminiClient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	client, err := g.newClient(ctx, g.cfg)
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

func (g *GeminiVideo) Analyze(ctx context.Context, file models.MediaFile, opts models.Options) (Output, error) {
	const op = "GeminiVideo.Analyze"

	if g.cfg.APIKey == "" {
		return Output{}, missingKey(op, g.Name())
	}

	model := opts.Model
	if model == "" {
		model = g.cfg.Model
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = g.cfg.Prompt
	}

	client, err := g.getClient(ctx)
	if err != nil {
		return Output{}, errors.Provider(op, err, "failed to create Gemini client")
	}

	logger := g.log.WithFields(logrus.Fields{
		"entry": file.EntryID,
		"path":  file.Path,
		"model": model,
	})

	f, err := os.Open(file.Path)
	if err != nil {
		return Output{}, errors.Provider(op, err, "failed to open video for upload")
	}
	defer f.Close()

	uploaded, err := client.Upload(ctx, f, videoMIMEType(file.Path), filepath.Base(file.Path))
	if err != nil {
		return Output{}, errors.Provider(op, err, "failed to upload video")
	}
	logger.WithField("file", uploaded.Name).Debug("Video uploaded")

	defer g.cleanup(ctx, client, uploaded.Name)

	active, err := g.waitActive(ctx, client, uploaded)
	if err != nil {
		return Output{}, err
	}

	parts := []*genai.Part{
		{FileData: &genai.FileData{FileURI: active.URI, MIMEType: active.MIMEType}},
		{Text: prompt},
	}
	text, err := client.Generate(ctx, model, parts)
	if err != nil {
		return Output{}, errors.Provider(op, err, "content generation failed")
	}
	if strings.TrimSpace(text) == "" {
		return Output{}, errors.Provider(op, nil, "Gemini returned an empty response")
	}

	logger.Info("Gemini analysis completed")
	return Output{Text: text, Model: model}, nil
}

// waitActive polls the uploaded file until it leaves the PROCESSING state or
// MaxWait elapses.
func (g *GeminiVideo) waitActive(ctx context.Context, client geminiClient, file *genai.File) (*genai.File, error) {
	const op = "GeminiVideo.waitActive"

	deadline := time.Now().Add(g.cfg.MaxWait)
	for file.State == genai.FileStateProcessing {
		if !time.Now().Before(deadline) {
			return nil, errors.Provider(op, nil,
				fmt.Sprintf("video processing did not finish within %s", g.cfg.MaxWait))
		}

		select {
		case <-ctx.Done():
			return nil, errors.Provider(op, ctx.Err(), "cancelled while waiting for video processing")
		case <-time.After(g.cfg.PollInterval):
		}

		next, err := client.GetFile(ctx, file.Name)
		if err != nil {
			return nil, errors.Provider(op, err, "failed to poll uploaded video")
		}
		file = next
	}

	switch file.State {
	case genai.FileStateActive:
		return file, nil
	case genai.FileStateFailed:
		msg := "video processing failed"
		if file.Error != nil && file.Error.Message != "" {
			msg = fmt.Sprintf("video processing failed: %s", file.Error.Message)
		}
		return nil, errors.Provider(op, nil, msg)
	default:
		return nil, errors.Provider(op, nil, fmt.Sprintf("uploaded video is not active (state %s)", file.State))
	}
}

func (g *GeminiVideo) cleanup(ctx context.Context, client geminiClient, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := client.DeleteFile(ctx, name); err != nil {
		g.log.WithError(err).WithField("file", name).Warn("Failed to delete uploaded video")
	}
}

func videoMIMEType(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); strings.HasPrefix(t, "video/") {
		return t
	}
	return "video/mp4"
}
