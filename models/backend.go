package models

import (
	"fmt"
	"strings"
)

type Backend string

const (
	BackendGeminiVideo   Backend = "gemini-video"
	BackendFrameSampling Backend = "frame-sampling"
	BackendTranscription Backend = "transcription"
)

// AllBackends lists the supported backends in their canonical order.
var AllBackends = []Backend{
	BackendGeminiVideo,
	BackendFrameSampling,
	BackendTranscription,
}

var backendAliases = map[string]Backend{
	"gemini":         BackendGeminiVideo,
	"gemini-video":   BackendGeminiVideo,
	"openai-vision":  BackendFrameSampling,
	"vision":         BackendFrameSampling,
	"frames":         BackendFrameSampling,
	"frame-sampling": BackendFrameSampling,
	"openai-audio":   BackendTranscription,
	"audio":          BackendTranscription,
	"transcription":  BackendTranscription,
}

func (b Backend) Valid() bool {
	switch b {
	case BackendGeminiVideo, BackendFrameSampling, BackendTranscription:
		return true
	}
	return false
}

func (b Backend) String() string { return string(b) }

// ParseBackend resolves a backend name or one of its aliases.
func ParseBackend(name string) (Backend, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "_", "-")
	if b, ok := backendAliases[key]; ok {
		return b, nil
	}
	return "", fmt.Errorf("unknown backend %q", name)
}

// ParseBackends resolves a list of names, dropping repeats while keeping
// first-seen order.
func ParseBackends(names []string) ([]Backend, error) {
	out := make([]Backend, 0, len(names))
	seen := make(map[Backend]bool, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		b, err := ParseBackend(name)
		if err != nil {
			return nil, err
		}
		if seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out, nil
}
