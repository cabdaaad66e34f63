package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/yt-analyze/backend"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/fetch"
	"github.com/nijaru/yt-analyze/logger"
	"github.com/nijaru/yt-analyze/media"
	"github.com/nijaru/yt-analyze/models"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{calls: make(map[string]int), fail: make(map[string]error)}
}

func (f *stubFetcher) Fetch(_ context.Context, entry models.Entry) (models.MediaFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[entry.ID]++
	if err, ok := f.fail[entry.ID]; ok {
		return models.MediaFile{}, err
	}
	return models.MediaFile{EntryID: entry.ID, Path: "/videos/" + entry.ID + ".mp4"}, nil
}

// stubAnalyzer answers "<backend>:<entry>" unless the entry is listed in
// fail or panics.
type stubAnalyzer struct {
	name   models.Backend
	fail   map[string]bool
	panics map[string]bool
	delay  time.Duration

	calls   int32
	running int32
	peak    int32
}

func (a *stubAnalyzer) Name() models.Backend { return a.name }

func (a *stubAnalyzer) Analyze(ctx context.Context, file models.MediaFile, _ models.Options) (backend.Output, error) {
	atomic.AddInt32(&a.calls, 1)
	n := atomic.AddInt32(&a.running, 1)
	defer atomic.AddInt32(&a.running, -1)
	for {
		p := atomic.LoadInt32(&a.peak)
		if n <= p || atomic.CompareAndSwapInt32(&a.peak, p, n) {
			break
		}
	}

	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return backend.Output{}, ctx.Err()
		}
	}
	if a.panics[file.EntryID] {
		panic("analyzer exploded")
	}
	if a.fail[file.EntryID] {
		return backend.Output{}, errors.Provider("stub", nil, "quota exceeded")
	}
	return backend.Output{Text: fmt.Sprintf("%s:%s", a.name, file.EntryID), Model: "stub-model"}, nil
}

type memCheckpoint struct {
	mu      sync.Mutex
	results map[string]models.Result
}

func newMemCheckpoint() *memCheckpoint {
	return &memCheckpoint{results: make(map[string]models.Result)}
}

func key(runID, entryID string, b models.Backend) string {
	return runID + "/" + entryID + "/" + string(b)
}

func (c *memCheckpoint) SaveResult(_ context.Context, runID string, r models.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key(runID, r.EntryID, r.Backend)] = r
	return nil
}

func (c *memCheckpoint) FindResult(_ context.Context, runID, entryID string, b models.Backend) (*models.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[key(runID, entryID, b)]
	if !ok {
		return nil, errors.NotFound("memCheckpoint.FindResult", nil, "result not found")
	}
	return &r, nil
}

func entries(ids ...string) []models.Entry {
	out := make([]models.Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Entry{
			ID:       id,
			Source:   "/videos/" + id + ".mp4",
			Backends: []models.Backend{models.BackendGeminiVideo, models.BackendTranscription},
		})
	}
	return out
}

func newRunner(cfg Config, f Fetcher, analyzers []backend.Analyzer, opts ...Option) *Runner {
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return New(cfg, f, backend.NewRegistry(analyzers...), opts...)
}

func resultsByID(m *models.ResultManifest) map[string][]models.Result {
	out := make(map[string][]models.Result)
	for _, er := range m.Entries {
		out[er.ID] = er.Results
	}
	return out
}

func TestRunOneResultPerPairInOrder(t *testing.T) {
	gemini := &stubAnalyzer{name: models.BackendGeminiVideo}
	audio := &stubAnalyzer{name: models.BackendTranscription}
	fetcher := newStubFetcher()
	r := newRunner(Config{RunID: "run-1"}, fetcher, []backend.Analyzer{gemini, audio})

	m, err := r.Run(context.Background(), entries("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, "run-1", m.RunID)
	require.Len(t, m.Entries, 3)

	for i, id := range []string{"a", "b", "c"} {
		er := m.Entries[i]
		assert.Equal(t, id, er.ID)
		require.Len(t, er.Results, 2)
		assert.Equal(t, models.BackendGeminiVideo, er.Results[0].Backend)
		assert.Equal(t, models.BackendTranscription, er.Results[1].Backend)
		assert.Equal(t, "gemini-video:"+id, er.Results[0].Payload)
		assert.Equal(t, id, er.Results[1].EntryID)
		assert.Equal(t, 1, fetcher.calls[id], "entry %s fetched more than once", id)
	}
	assert.False(t, m.FinishedAt.Before(m.StartedAt))
}

func TestRunIsolatesFailures(t *testing.T) {
	gemini := &stubAnalyzer{
		name:   models.BackendGeminiVideo,
		fail:   map[string]bool{"a": true},
		panics: map[string]bool{"b": true},
	}
	audio := &stubAnalyzer{name: models.BackendTranscription}
	r := newRunner(Config{}, newStubFetcher(), []backend.Analyzer{gemini, audio})

	m, err := r.Run(context.Background(), entries("a", "b", "c"))
	require.NoError(t, err)
	got := resultsByID(m)

	assert.False(t, got["a"][0].Success)
	assert.Equal(t, "ProviderError", got["a"][0].ErrorKind)
	assert.True(t, got["a"][1].Success)

	assert.False(t, got["b"][0].Success)
	assert.Equal(t, "InternalError", got["b"][0].ErrorKind)
	assert.True(t, got["b"][1].Success)

	assert.True(t, got["c"][0].Success)
	assert.True(t, got["c"][1].Success)
}

func TestRunFetchFailureFailsEveryBackend(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.fail["a"] = errors.FetchFailed("stub", nil, "HTTP 503")
	gemini := &stubAnalyzer{name: models.BackendGeminiVideo}
	audio := &stubAnalyzer{name: models.BackendTranscription}
	r := newRunner(Config{}, fetcher, []backend.Analyzer{gemini, audio})

	m, err := r.Run(context.Background(), entries("a", "b"))
	require.NoError(t, err)
	got := resultsByID(m)

	require.Len(t, got["a"], 2)
	for _, res := range got["a"] {
		assert.False(t, res.Success)
		assert.Equal(t, "FetchFailed", res.ErrorKind)
		assert.Contains(t, res.Error, "HTTP 503")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&gemini.calls))
	assert.True(t, got["b"][0].Success)
}

func TestRunMissingLocalSourceIsSourceNotFound(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "exists.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("video"), 0o644))

	f, err := fetch.New(filepath.Join(dir, "downloads"), logger.Discard())
	require.NoError(t, err)

	gemini := &stubAnalyzer{name: models.BackendGeminiVideo}
	r := newRunner(Config{}, f, []backend.Analyzer{gemini})

	m, err := r.Run(context.Background(), []models.Entry{
		{ID: "missing", Source: filepath.Join(dir, "nope.mp4"), Backends: []models.Backend{models.BackendGeminiVideo}},
		{ID: "exists", Source: existing, Backends: []models.Backend{models.BackendGeminiVideo}},
	})
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)

	missing := m.Entries[0].Results
	require.Len(t, missing, 1)
	assert.False(t, missing[0].Success)
	assert.Equal(t, "SourceNotFound", missing[0].ErrorKind)

	assert.True(t, m.Entries[1].Results[0].Success)
	assert.Equal(t, "gemini-video:exists", m.Entries[1].Results[0].Payload)
}

type frameStub struct{}

func (frameStub) SampleFrames(context.Context, string, int) ([]media.Frame, error) {
	return []media.Frame{{Data: []byte{0xff, 0xd8}}}, nil
}

func TestRunFrameSamplingWithoutCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote-video"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "local.mp4")
	require.NoError(t, os.WriteFile(local, []byte("video"), 0o644))

	f, err := fetch.New(filepath.Join(dir, "downloads"), logger.Discard())
	require.NoError(t, err)

	vision := backend.NewFrameSampling(backend.VisionConfig{}, frameStub{}, logger.Discard())
	r := newRunner(Config{}, f, []backend.Analyzer{vision})

	frames := []models.Backend{models.BackendFrameSampling}
	m, err := r.Run(context.Background(), []models.Entry{
		{ID: "local", Source: local, Backends: frames},
		{ID: "remote", Source: srv.URL + "/clip.mp4", Backends: frames},
	})
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)

	for _, er := range m.Entries {
		require.Len(t, er.Results, 1, er.ID)
		res := er.Results[0]
		assert.False(t, res.Success)
		assert.Equal(t, "ProviderError", res.ErrorKind)
		assert.Contains(t, res.Error, "missing API key for frame-sampling")
	}
}

func TestRunDefaultBackends(t *testing.T) {
	gemini := &stubAnalyzer{name: models.BackendGeminiVideo}
	vision := &stubAnalyzer{name: models.BackendFrameSampling}
	list := []models.Entry{{ID: "a", Source: "/videos/a.mp4"}}

	t.Run("configured default", func(t *testing.T) {
		r := newRunner(Config{DefaultBackends: []models.Backend{models.BackendFrameSampling}},
			newStubFetcher(), []backend.Analyzer{gemini, vision})
		m, err := r.Run(context.Background(), list)
		require.NoError(t, err)
		require.Len(t, m.Entries[0].Results, 1)
		assert.Equal(t, models.BackendFrameSampling, m.Entries[0].Results[0].Backend)
	})

	t.Run("built-in default", func(t *testing.T) {
		r := newRunner(Config{}, newStubFetcher(), []backend.Analyzer{gemini, vision})
		m, err := r.Run(context.Background(), list)
		require.NoError(t, err)
		require.Len(t, m.Entries[0].Results, 1)
		assert.Equal(t, models.BackendGeminiVideo, m.Entries[0].Results[0].Backend)
	})
}

func TestRunUnconfiguredBackend(t *testing.T) {
	r := newRunner(Config{}, newStubFetcher(), nil)

	m, err := r.Run(context.Background(), []models.Entry{
		{ID: "a", Source: "/videos/a.mp4", Backends: []models.Backend{models.BackendTranscription}},
	})
	require.NoError(t, err)
	res := m.Entries[0].Results[0]
	assert.False(t, res.Success)
	assert.Equal(t, "ProviderError", res.ErrorKind)
	assert.Contains(t, res.Error, "not configured")
	assert.Equal(t, "a", res.EntryID)
}

func TestRunResume(t *testing.T) {
	cp := newMemCheckpoint()
	fetcher := newStubFetcher()
	gemini := &stubAnalyzer{name: models.BackendGeminiVideo, fail: map[string]bool{"b": true}}
	audio := &stubAnalyzer{name: models.BackendTranscription}

	first := newRunner(Config{RunID: "first"}, fetcher, []backend.Analyzer{gemini, audio}, WithCheckpoint(cp))
	_, err := first.Run(context.Background(), entries("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&gemini.calls))
	assert.Len(t, cp.results, 4)

	gemini.fail = nil
	second := newRunner(Config{RunID: "second", ResumeRunID: "first"}, fetcher,
		[]backend.Analyzer{gemini, audio}, WithCheckpoint(cp))
	m, err := second.Run(context.Background(), entries("a", "b"))
	require.NoError(t, err)

	// Only the failed pair is re-attempted.
	assert.Equal(t, int32(3), atomic.LoadInt32(&gemini.calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&audio.calls))
	assert.Equal(t, 1, fetcher.calls["a"], "fully resumed entry must not be fetched again")

	got := resultsByID(m)
	assert.True(t, got["a"][0].Resumed)
	assert.True(t, got["a"][1].Resumed)
	assert.False(t, got["b"][0].Resumed)
	assert.True(t, got["b"][0].Success)
	assert.True(t, got["b"][1].Resumed)

	_, err = cp.FindResult(context.Background(), "second", "a", models.BackendGeminiVideo)
	assert.NoError(t, err, "resumed results are saved under the new run")
}

func TestRunConcurrentKeepsOrder(t *testing.T) {
	gemini := &stubAnalyzer{name: models.BackendGeminiVideo, delay: 10 * time.Millisecond}
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("e%02d", i)
	}
	list := entries(ids...)
	for i := range list {
		list[i].Backends = []models.Backend{models.BackendGeminiVideo}
	}

	var done int32
	r := newRunner(Config{Concurrency: 4}, newStubFetcher(), []backend.Analyzer{gemini},
		OnEntryDone(func(int, models.EntryResults) { atomic.AddInt32(&done, 1) }))

	m, err := r.Run(context.Background(), list)
	require.NoError(t, err)
	require.Len(t, m.Entries, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, m.Entries[i].ID)
	}
	assert.Equal(t, int32(len(ids)), done)
	assert.LessOrEqual(t, atomic.LoadInt32(&gemini.peak), int32(4))
	assert.Greater(t, atomic.LoadInt32(&gemini.peak), int32(1))
}

func TestRunCancelReturnsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gemini := &stubAnalyzer{name: models.BackendGeminiVideo}
	audio := &stubAnalyzer{name: models.BackendTranscription}
	r := newRunner(Config{}, newStubFetcher(), []backend.Analyzer{gemini, audio},
		OnEntryDone(func(i int, _ models.EntryResults) {
			if i == 0 {
				cancel()
			}
		}))

	m, err := r.Run(ctx, entries("a", "b", "c"))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "a", m.Entries[0].ID)
	assert.Len(t, m.Entries[0].Results, 2)
}

func TestRunDelayBetweenEntries(t *testing.T) {
	gemini := &stubAnalyzer{name: models.BackendGeminiVideo}
	r := newRunner(Config{Delay: 30 * time.Millisecond, DefaultBackends: []models.Backend{models.BackendGeminiVideo}},
		newStubFetcher(), []backend.Analyzer{gemini})

	start := time.Now()
	_, err := r.Run(context.Background(), []models.Entry{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRunOnResultSeesEveryPair(t *testing.T) {
	var seen []string
	r := newRunner(Config{}, newStubFetcher(), []backend.Analyzer{
		&stubAnalyzer{name: models.BackendGeminiVideo},
		&stubAnalyzer{name: models.BackendTranscription},
	}, OnResult(func(res models.Result) {
		seen = append(seen, res.EntryID+"/"+string(res.Backend))
	}))

	_, err := r.Run(context.Background(), entries("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"a/gemini-video", "a/transcription",
		"b/gemini-video", "b/transcription",
	}, seen)
}
