package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/scripts"
)

// Info is the subset of ffprobe output the analyzers care about.
type Info struct {
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	HasVideo   bool
	HasAudio   bool
	VideoCodec string
	AudioCodec string
}

type Frame struct {
	Index     int
	Timestamp time.Duration
	Data      []byte
}

type Clip struct {
	Index int
	Start time.Duration
	End   time.Duration
	Path  string
}

// Executor wraps the ffmpeg and ffprobe binaries.
type Executor struct {
	runner      scripts.CommandRunner
	ffmpegPath  string
	ffprobePath string
	log         logrus.FieldLogger
}

// New resolves both binaries up front so a missing install is reported once.
func New(log logrus.FieldLogger, runner scripts.CommandRunner, ffmpegPath, ffprobePath string) (*Executor, error) {
	const op = "media.New"

	ffmpeg, err := scripts.LookPath(ffmpegPath)
	if err != nil {
		return nil, errors.FrameExtraction(op, err, "ffmpeg is not installed")
	}
	ffprobe, err := scripts.LookPath(ffprobePath)
	if err != nil {
		return nil, errors.FrameExtraction(op, err, "ffprobe is not installed")
	}
	return newExecutor(log, runner, ffmpeg, ffprobe), nil
}

func newExecutor(log logrus.FieldLogger, runner scripts.CommandRunner, ffmpeg, ffprobe string) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if runner == nil {
		runner = scripts.NewRunner(log)
	}
	return &Executor{
		runner:      runner,
		ffmpegPath:  ffmpeg,
		ffprobePath: ffprobe,
		log:         log,
	}
}

func (e *Executor) Probe(ctx context.Context, path string) (*Info, error) {
	const op = "Executor.Probe"

	out, err := e.runner.Run(ctx, e.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, errors.FrameExtraction(op, err, fmt.Sprintf("ffprobe failed for %s", path))
	}

	info, err := parseProbe(out)
	if err != nil {
		return nil, errors.FrameExtraction(op, err, "failed to parse ffprobe output")
	}
	return info, nil
}

// SampleFrames extracts n JPEG frames spread evenly over the video. Frames
// that cannot be decoded are skipped; zero usable frames is an error.
func (e *Executor) SampleFrames(ctx context.Context, path string, n int) ([]Frame, error) {
	const op = "Executor.SampleFrames"

	if n < 1 {
		return nil, errors.FrameExtraction(op, nil, fmt.Sprintf("frame count must be positive, got %d", n))
	}

	info, err := e.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if !info.HasVideo {
		return nil, errors.FrameExtraction(op, nil, fmt.Sprintf("%s has no video stream", path))
	}

	frames := make([]Frame, 0, n)
	var lastErr error
	for i, ts := range FrameTimestamps(info.Duration, n) {
		data, err := e.runner.Run(ctx, e.ffmpegPath,
			"-v", "error",
			"-ss", formatSeconds(ts),
			"-i", path,
			"-frames:v", "1",
			"-q:v", "3",
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"pipe:1",
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.FrameExtraction(op, ctx.Err(), "frame sampling cancelled")
			}
			lastErr = err
			continue
		}
		if len(data) == 0 {
			continue
		}
		frames = append(frames, Frame{Index: i, Timestamp: ts, Data: data})
	}

	if len(frames) == 0 {
		return nil, errors.FrameExtraction(op, lastErr, fmt.Sprintf("no frames could be extracted from %s", path))
	}

	e.log.WithFields(logrus.Fields{
		"path":      path,
		"requested": n,
		"extracted": len(frames),
	}).Debug("Sampled frames")

	return frames, nil
}

// ExtractAudio writes the audio track of input to output as MP3.
func (e *Executor) ExtractAudio(ctx context.Context, input, output string) error {
	const op = "Executor.ExtractAudio"

	_, err := e.runner.Run(ctx, e.ffmpegPath,
		"-y",
		"-v", "error",
		"-i", input,
		"-vn",
		"-acodec", "libmp3lame",
		output,
	)
	if err != nil {
		return errors.FrameExtraction(op, err, fmt.Sprintf("failed to extract audio from %s", input))
	}
	if fi, err := os.Stat(output); err != nil || fi.Size() == 0 {
		return errors.FrameExtraction(op, err, fmt.Sprintf("no audio extracted from %s", input))
	}
	return nil
}

// SplitClips cuts input into consecutive clips of clipLen (the last one may
// be shorter) inside outDir.
func (e *Executor) SplitClips(ctx context.Context, input, outDir string, clipLen time.Duration) ([]Clip, error) {
	const op = "Executor.SplitClips"

	info, err := e.Probe(ctx, input)
	if err != nil {
		return nil, err
	}
	if info.Duration <= 0 {
		return nil, errors.FrameExtraction(op, nil, fmt.Sprintf("cannot determine duration of %s", input))
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Write(op, err, "failed to create clip directory")
	}

	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	clips := ClipBounds(info.Duration, clipLen)
	for i := range clips {
		c := &clips[i]
		c.Path = filepath.Join(outDir, ClipFileName(stem, *c))

		_, err := e.runner.Run(ctx, e.ffmpegPath,
			"-y",
			"-v", "error",
			"-i", input,
			"-ss", formatSeconds(c.Start),
			"-t", formatSeconds(c.End-c.Start),
			"-c:v", "libx264",
			"-c:a", "aac",
			"-avoid_negative_ts", "make_zero",
			c.Path,
		)
		if err != nil {
			return clips[:i], errors.FrameExtraction(op, err, fmt.Sprintf("failed to cut clip %d", c.Index))
		}

		e.log.WithFields(logrus.Fields{
			"clip":  c.Index,
			"start": c.Start,
			"end":   c.End,
			"path":  c.Path,
		}).Info("Clip written")
	}

	return clips, nil
}

// FrameTimestamps returns n timestamps at the centres of n equal slices of
// d. An unknown duration yields a single frame at the start.
func FrameTimestamps(d time.Duration, n int) []time.Duration {
	if n < 1 {
		return nil
	}
	if d <= 0 {
		return []time.Duration{0}
	}
	out := make([]time.Duration, n)
	step := float64(d) / float64(n)
	for i := range out {
		out[i] = time.Duration(step * (float64(i) + 0.5))
	}
	return out
}

// ClipBounds splits total into 1-based clips of clipLen.
func ClipBounds(total, clipLen time.Duration) []Clip {
	if total <= 0 || clipLen <= 0 {
		return nil
	}
	n := int(total / clipLen)
	if total%clipLen > 0 {
		n++
	}
	clips := make([]Clip, n)
	for i := range clips {
		start := time.Duration(i) * clipLen
		end := start + clipLen
		if end > total {
			end = total
		}
		clips[i] = Clip{Index: i + 1, Start: start, End: end}
	}
	return clips
}

func ClipFileName(stem string, c Clip) string {
	return fmt.Sprintf("%s_clip_%03d_%.0fs-%.0fs.mp4",
		stem, c.Index, math.Round(c.Start.Seconds()), math.Round(c.End.Seconds()))
}

// DataURL encodes a JPEG frame for inline submission to a vision model.
func DataURL(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

func parseProbe(data []byte) (*Info, error) {
	var probe probeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	info := &Info{}
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			info.HasVideo = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.VideoCodec = stream.CodecName
			info.FPS = parseFrameRate(stream.RFrameRate)
			if info.Duration == 0 {
				if dur, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
					info.Duration = time.Duration(dur * float64(time.Second))
				}
			}
		case "audio":
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
		}
	}

	return info, nil
}

// parseFrameRate handles ffprobe's "30000/1001" notation.
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Unavailable stands in for an Executor when ffmpeg is missing, so every
// media operation fails with the same recorded cause.
type Unavailable struct {
	Err error
}

func (u Unavailable) SampleFrames(context.Context, string, int) ([]Frame, error) {
	return nil, u.Err
}

func (u Unavailable) ExtractAudio(context.Context, string, string) error {
	return u.Err
}
