package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/logger"
)

const probeJSON = `{
  "format": {"duration": "30.000000"},
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1080, "height": 1920, "r_frame_rate": "30000/1001"},
    {"codec_type": "audio", "codec_name": "aac"}
  ]
}`

// fakeRunner answers ffprobe with probeJSON and ffmpeg through frameFn.
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	frameFn func(call int) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	if name == "ffprobe" {
		return []byte(probeJSON), nil
	}
	return f.frameFn(len(f.calls))
}

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

func TestFrameTimestamps(t *testing.T) {
	got := FrameTimestamps(8*time.Second, 4)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 7 * time.Second}, got)

	assert.Equal(t, []time.Duration{0}, FrameTimestamps(0, 8))
	assert.Nil(t, FrameTimestamps(10*time.Second, 0))
}

func TestClipBounds(t *testing.T) {
	clips := ClipBounds(75*time.Second, 30*time.Second)
	require.Len(t, clips, 3)
	assert.Equal(t, Clip{Index: 3, Start: 60 * time.Second, End: 75 * time.Second}, clips[2])

	assert.Len(t, ClipBounds(60*time.Second, 30*time.Second), 2)
	assert.Nil(t, ClipBounds(0, 30*time.Second))
}

func TestClipFileName(t *testing.T) {
	name := ClipFileName("short", Clip{Index: 2, Start: 30 * time.Second, End: 45500 * time.Millisecond})
	assert.Equal(t, "short_clip_002_30s-46s.mp4", name)
}

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(probeJSON))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, info.Duration)
	assert.True(t, info.HasVideo)
	assert.True(t, info.HasAudio)
	assert.Equal(t, 1080, info.Width)
	assert.InDelta(t, 29.97, info.FPS, 0.01)

	_, err = parseProbe([]byte("not json"))
	assert.Error(t, err)
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,AQID", DataURL([]byte{1, 2, 3}))
}

func TestSampleFramesSkipsBadFrames(t *testing.T) {
	runner := &fakeRunner{frameFn: func(call int) ([]byte, error) {
		if call%2 == 0 {
			return nil, fmt.Errorf("decode error")
		}
		return []byte{0xff, 0xd8, byte(call)}, nil
	}}
	e := newExecutor(logger.Discard(), runner, "ffmpeg", "ffprobe")

	frames, err := e.SampleFrames(context.Background(), "clip.mp4", 4)
	require.NoError(t, err)
	assert.Len(t, frames, 2)
	assert.Equal(t, 3*30*time.Second/8, frames[0].Timestamp)

	seek := runner.calls[1]
	assert.Equal(t, "ffmpeg", seek[0])
	assert.Contains(t, strings.Join(seek, " "), "-ss 3.750")
}

func TestSampleFramesNoFrames(t *testing.T) {
	runner := &fakeRunner{frameFn: func(int) ([]byte, error) { return nil, fmt.Errorf("boom") }}
	e := newExecutor(logger.Discard(), runner, "ffmpeg", "ffprobe")

	_, err := e.SampleFrames(context.Background(), "clip.mp4", 3)
	require.Error(t, err)
	assert.True(t, errors.IsFrameExtraction(err))
}

func TestUnavailable(t *testing.T) {
	u := Unavailable{Err: errors.FrameExtraction("media.New", nil, "ffmpeg is not installed")}

	_, err := u.SampleFrames(context.Background(), "a.mp4", 8)
	assert.True(t, errors.IsFrameExtraction(err))
	assert.True(t, errors.IsFrameExtraction(u.ExtractAudio(context.Background(), "a.mp4", "a.mp3")))
}

// makeTestVideo renders a short synthetic clip with a tone.
func makeTestVideo(t *testing.T, seconds int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mp4")
	cmd := exec.Command("ffmpeg", "-y", "-v", "error",
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=duration=%d:size=160x120:rate=10", seconds),
		"-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=440:duration=%d", seconds),
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "aac", "-shortest", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("cannot render test video: %v: %s", err, out)
	}
	return path
}

func TestExecutorIntegration(t *testing.T) {
	skipIfNoFFmpeg(t)

	e, err := New(logger.Discard(), nil, "ffmpeg", "ffprobe")
	require.NoError(t, err)

	video := makeTestVideo(t, 5)
	ctx := context.Background()

	info, err := e.Probe(ctx, video)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, info.Duration.Seconds(), 0.5)
	assert.True(t, info.HasAudio)

	frames, err := e.SampleFrames(ctx, video, 3)
	require.NoError(t, err)
	assert.Len(t, frames, 3)
	assert.Equal(t, byte(0xff), frames[0].Data[0])

	audio := filepath.Join(t.TempDir(), "audio.mp3")
	if err := e.ExtractAudio(ctx, video, audio); err != nil {
		t.Logf("audio extraction unavailable in this ffmpeg build: %v", err)
	}

	clips, err := e.SplitClips(ctx, video, filepath.Join(t.TempDir(), "clips"), 2*time.Second)
	require.NoError(t, err)
	assert.Len(t, clips, 3)
	for _, c := range clips {
		_, err := os.Stat(c.Path)
		assert.NoError(t, err)
	}
}

func TestNewMissingBinary(t *testing.T) {
	_, err := New(logger.Discard(), nil, "no-such-ffmpeg-binary", "ffprobe")
	require.Error(t, err)
	assert.True(t, errors.IsFrameExtraction(err))
}
