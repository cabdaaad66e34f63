package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		input   string
		want    Backend
		wantErr bool
	}{
		{"gemini-video", BackendGeminiVideo, false},
		{"gemini", BackendGeminiVideo, false},
		{"OpenAI_Vision", BackendFrameSampling, false},
		{" audio ", BackendTranscription, false},
		{"transcription", BackendTranscription, false},
		{"claude", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBackend(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBackendsDropsRepeats(t *testing.T) {
	got, err := ParseBackends([]string{"vision", "gemini", "frame-sampling", ""})
	require.NoError(t, err)
	assert.Equal(t, []Backend{BackendFrameSampling, BackendGeminiVideo}, got)

	_, err = ParseBackends([]string{"gemini", "bogus"})
	assert.Error(t, err)
}

func TestOptionsFor(t *testing.T) {
	e := Entry{
		Options: Options{Prompt: "describe", FrameCount: 4},
		BackendOptions: map[Backend]Options{
			BackendFrameSampling: {FrameCount: 12},
		},
	}

	vision := e.OptionsFor(BackendFrameSampling)
	assert.Equal(t, 12, vision.FrameCount)
	assert.Equal(t, "describe", vision.Prompt)

	gemini := e.OptionsFor(BackendGeminiVideo)
	assert.Equal(t, 4, gemini.FrameCount)
}

func TestNewFailureRecordsKind(t *testing.T) {
	started := time.Now()
	r := NewFailure("a", BackendGeminiVideo, errors.Provider("op", fmt.Errorf("quota"), "generate failed"), started, 1500*time.Millisecond)

	assert.False(t, r.Success)
	assert.Equal(t, "ProviderError", r.ErrorKind)
	assert.Equal(t, "generate failed: quota", r.Error)
	assert.Equal(t, int64(1500), r.DurationMS)
}

func TestResultManifestJSONKeepsOrder(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := &ResultManifest{RunID: "run-1", StartedAt: started, FinishedAt: started.Add(time.Minute)}
	for _, id := range []string{"zeta", "alpha", "mid"} {
		m.Append(EntryResults{
			ID:     id,
			Source: "https://example.com/" + id + ".mp4?a=1&b=<2>",
			Results: []Result{
				NewSuccess(id, BackendFrameSampling, "gpt-4o-mini", "a <b> & c", started, time.Second),
			},
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(m))
	data := buf.Bytes()
	text := string(data)

	assert.Less(t, strings.Index(text, `"zeta"`), strings.Index(text, `"alpha"`))
	assert.Less(t, strings.Index(text, `"alpha"`), strings.Index(text, `"mid"`))
	assert.Contains(t, text, "a <b> & c")

	var decoded ResultManifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Entries, 3)
	assert.Equal(t, "zeta", decoded.Entries[0].ID)
	assert.Equal(t, "mid", decoded.Entries[2].ID)
	assert.Equal(t, "zeta", decoded.Entries[0].Results[0].EntryID)
	assert.Equal(t, m.Entries[1].Results[0].Payload, decoded.Entries[1].Results[0].Payload)

	ok, failed := decoded.Totals()
	assert.Equal(t, 3, ok)
	assert.Equal(t, 0, failed)
}

func TestEmptyManifestJSON(t *testing.T) {
	data, err := json.Marshal(&ResultManifest{})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"entries":{}`)

	var decoded ResultManifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Empty(t, decoded.Entries)
}
