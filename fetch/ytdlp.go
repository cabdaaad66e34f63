package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/scripts"
)

// YTDLPDownloader fetches YouTube and similar pages through the yt-dlp
// binary. The smallest available format is requested and remuxed to mp4.
type YTDLPDownloader struct {
	Path   string
	Format string
	runner scripts.CommandRunner
	log    logrus.FieldLogger
}

var _ Downloader = (*YTDLPDownloader)(nil)

func NewYTDLPDownloader(path, format string, runner scripts.CommandRunner, log logrus.FieldLogger) *YTDLPDownloader {
	if path == "" {
		path = "yt-dlp"
	}
	if format == "" {
		format = "worst"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if runner == nil {
		runner = scripts.NewRunner(log)
	}
	return &YTDLPDownloader{Path: path, Format: format, runner: runner, log: log}
}

func (d *YTDLPDownloader) Download(ctx context.Context, ref, dest string) error {
	const op = "YTDLPDownloader.Download"

	dir := filepath.Dir(dest)
	base := strings.TrimSuffix(filepath.Base(dest), filepath.Ext(dest))
	// yt-dlp picks the final extension, so download under a private name and
	// rename once it is complete.
	partial := filepath.Join(dir, ".ytdlp-"+base)
	template := partial + ".%(ext)s"

	args := []string{
		"-f", d.Format,
		"--no-playlist",
		"--no-progress",
		"--remux-video", "mp4",
		"-o", template,
		ref,
	}

	if _, err := d.runner.Run(ctx, d.Path, args...); err != nil {
		cleanupPartial(partial)
		return errors.FetchFailed(op, err, fmt.Sprintf("yt-dlp failed for %s", ref))
	}

	matches, _ := filepath.Glob(partial + ".*")
	var produced string
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		produced = m
		if strings.EqualFold(filepath.Ext(m), filepath.Ext(dest)) {
			break
		}
	}
	if produced == "" {
		return errors.FetchFailed(op, nil, fmt.Sprintf("yt-dlp produced no output for %s", ref))
	}

	if err := os.Rename(produced, dest); err != nil {
		cleanupPartial(partial)
		return errors.FetchFailed(op, err, "failed to move download into cache")
	}
	cleanupPartial(partial)

	d.log.WithFields(logrus.Fields{
		"source": ref,
		"path":   dest,
	}).Debug("yt-dlp download finished")
	return nil
}

func cleanupPartial(partial string) {
	matches, _ := filepath.Glob(partial + ".*")
	for _, m := range matches {
		os.Remove(m)
	}
}
