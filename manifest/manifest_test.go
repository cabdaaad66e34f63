package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadJSONList(t *testing.T) {
	path := writeFile(t, "jobs.json", `[
  {"id": "a", "source": "videos/a.mp4", "backends": ["frame-sampling", "gemini"], "options": {"frames": 4, "prompt": "describe"}},
  {"url": "https://www.youtube.com/shorts/abc123", "tag": "sports", "remarks": "check"},
  "https://cdn.example.com/clips/b.webm"
]`)

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, []models.Backend{models.BackendFrameSampling, models.BackendGeminiVideo}, entries[0].Backends)
	assert.Equal(t, 4, entries[0].Options.FrameCount)
	assert.Equal(t, "describe", entries[0].Options.Prompt)

	assert.Equal(t, "abc123", entries[1].ID)
	assert.Equal(t, "https://www.youtube.com/shorts/abc123", entries[1].Source)
	assert.Empty(t, entries[1].Backends)
	assert.Equal(t, "sports", entries[1].Tag)
	assert.Equal(t, "check", entries[1].Remarks)

	assert.Equal(t, "b", entries[2].ID)
}

func TestReadJSONObjectRoot(t *testing.T) {
	path := writeFile(t, "jobs.json", `{"entries": [{"source": "a.mp4", "backend_options": {"vision": {"frame_count": 2}}}]}`)

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].OptionsFor(models.BackendFrameSampling).FrameCount)
	assert.Equal(t, 0, entries[0].OptionsFor(models.BackendTranscription).FrameCount)
}

func TestReadYAML(t *testing.T) {
	path := writeFile(t, "jobs.yaml", `
entries:
  - id: first
    source: https://example.com/v/one.mp4
    backends: [transcription]
    options:
      transcription_model: whisper-1
  - videos/two.mov
`)

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].ID)
	assert.Equal(t, []models.Backend{models.BackendTranscription}, entries[0].Backends)
	assert.Equal(t, "whisper-1", entries[0].Options.TranscriptionModel)
	assert.Equal(t, "two", entries[1].ID)
	assert.Equal(t, "videos/two.mov", entries[1].Source)
}

func TestDerivedIDsAreUnique(t *testing.T) {
	entries, err := ParseJSON([]byte(`["a/clip.mp4", "b/clip.mp4", {"id": "clip-2", "source": "c.mp4"}]`))
	require.NoError(t, err)

	ids := []string{entries[0].ID, entries[1].ID, entries[2].ID}
	assert.Equal(t, []string{"clip", "clip-3", "clip-2"}, ids)
}

func TestReadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", `{{{`},
		{"empty", ``},
		{"empty list", `[]`},
		{"scalar root", `42`},
		{"object without entries", `{"jobs": []}`},
		{"missing source", `[{"id": "a"}]`},
		{"unknown backend", `[{"source": "a.mp4", "backends": ["claude"]}]`},
		{"duplicate id", `[{"id": "x", "source": "a.mp4"}, {"id": "x", "source": "b.mp4"}]`},
		{"negative frames", `[{"source": "a.mp4", "options": {"frames": -1}}]`},
		{"unsupported scheme", `[{"source": "ftp://host/a.mp4"}]`},
		{"number item", `[1]`},
		{"backends not a list", `[{"source": "a.mp4", "backends": "gemini"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsMalformedManifest(err), "got %v", err)
		})
	}
}

func TestReadMalformedYAML(t *testing.T) {
	for _, content := range []string{"entries: 5", "- {source: a.mp4, backends: [bogus]}", "key: [unclosed"} {
		_, err := ParseYAML([]byte(content))
		require.Error(t, err, content)
		assert.True(t, errors.IsMalformedManifest(err), content)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.json"))
	assert.True(t, errors.IsMalformedManifest(err))
}

func sampleManifest() *models.ResultManifest {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &models.ResultManifest{RunID: "run-42", StartedAt: started, FinishedAt: started.Add(2 * time.Minute)}
	m.Append(models.EntryResults{
		ID:     "b-second",
		Source: "https://example.com/b.mp4",
		Tag:    "news",
		Results: []models.Result{
			models.NewSuccess("b-second", models.BackendGeminiVideo, "gemini-2.0-flash-exp", "내용 요약: 풍경", started, 3*time.Second),
			models.NewFailure("b-second", models.BackendTranscription, errors.Provider("op", nil, "both models failed"), started, time.Second),
		},
	})
	m.Append(models.EntryResults{
		ID:     "a-first",
		Source: "local/a.mp4",
		Results: []models.Result{
			models.NewFailure("a-first", models.BackendFrameSampling, errors.SourceNotFound("op", nil, "no such file"), started, 0),
		},
	})
	return m
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.json")
	m := sampleManifest()

	require.NoError(t, Write(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "내용 요약", "non-ASCII text is written verbatim")
	assert.Contains(t, text, "\n  \"entries\"", "two-space indentation")
	assert.Less(t, strings.Index(text, "b-second"), strings.Index(text, "a-first"))

	got, err := ReadResults(path)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, got.RunID)
	assert.True(t, m.StartedAt.Equal(got.StartedAt))
	require.Len(t, got.Entries, 2)

	for i := range m.Entries {
		want, have := m.Entries[i], got.Entries[i]
		assert.Equal(t, want.ID, have.ID)
		assert.Equal(t, want.Source, have.Source)
		assert.Equal(t, want.Tag, have.Tag)
		require.Len(t, have.Results, len(want.Results))
		for j := range want.Results {
			assert.Equal(t, want.Results[j].Backend, have.Results[j].Backend)
			assert.Equal(t, want.Results[j].Success, have.Results[j].Success)
			assert.Equal(t, want.Results[j].Payload, have.Results[j].Payload)
			assert.Equal(t, want.Results[j].Error, have.Results[j].Error)
			assert.Equal(t, want.Results[j].ErrorKind, have.Results[j].ErrorKind)
			assert.Equal(t, want.Results[j].DurationMS, have.Results[j].DurationMS)
		}
	}
}

func TestWriteOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, Write(path, sampleManifest()))
	got, err := ReadResults(path)
	require.NoError(t, err)
	assert.Len(t, got.Entries, 2)
}

func TestWriteFailureIsWriteError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := Write(filepath.Join(blocker, "results.json"), sampleManifest())
	require.Error(t, err)
	assert.True(t, errors.IsWrite(err))
}
