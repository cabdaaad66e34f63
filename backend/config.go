package backend

import "time"

const (
	DefaultGeminiModel        = "gemini-2.0-flash-exp"
	DefaultVisionModel        = "gpt-4o-mini"
	DefaultFrameCount         = 8
	DefaultTranscriptionModel = "gpt-4o-mini-transcribe"
	DefaultFallbackModel      = "whisper-1"

	DefaultPollInterval = time.Second
	DefaultMaxWait      = 5 * time.Minute
)

type GeminiConfig struct {
	APIKey       string
	Model        string
	Prompt       string
	PollInterval time.Duration
	MaxWait      time.Duration
	BaseURL      string
	Timeout      time.Duration
}

func (c GeminiConfig) withDefaults() GeminiConfig {
	if c.Model == "" {
		c.Model = DefaultGeminiModel
	}
	if c.Prompt == "" {
		c.Prompt = DefaultGeminiPrompt
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

type VisionConfig struct {
	APIKey     string
	Model      string
	Prompt     string
	FrameCount int
	BaseURL    string
	Timeout    time.Duration
}

func (c VisionConfig) withDefaults() VisionConfig {
	if c.Model == "" {
		c.Model = DefaultVisionModel
	}
	if c.Prompt == "" {
		c.Prompt = DefaultVisionPrompt
	}
	if c.FrameCount <= 0 {
		c.FrameCount = DefaultFrameCount
	}
	return c
}

type TranscriptionConfig struct {
	APIKey        string
	Model         string
	FallbackModel string
	BaseURL       string
	Timeout       time.Duration
}

func (c TranscriptionConfig) withDefaults() TranscriptionConfig {
	if c.Model == "" {
		c.Model = DefaultTranscriptionModel
	}
	if c.FallbackModel == "" {
		c.FallbackModel = DefaultFallbackModel
	}
	return c
}
