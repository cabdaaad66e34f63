package backend

import (
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// newOpenAIClient builds a client with SDK retries disabled; the only retry
// in this package is the transcription model fallback.
func newOpenAIClient(apiKey, baseURL string, timeout time.Duration) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return openai.NewClient(opts...)
}
