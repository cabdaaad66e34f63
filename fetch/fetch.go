package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/utils"
	"github.com/nijaru/yt-analyze/validation"
)

// Downloader stores the media behind ref at dest. Implementations should
// write atomically so a failed download never leaves a file at dest.
type Downloader interface {
	Download(ctx context.Context, ref, dest string) error
}

type fileLock struct {
	mu sync.Mutex
}

// Fetcher resolves entry sources to local files, downloading remote ones into
// a cache directory at most once.
type Fetcher struct {
	dir   string
	log   logrus.FieldLogger
	http  Downloader
	ytdlp Downloader
	s3    Downloader
	locks sync.Map
}

type Option func(*Fetcher)

func WithHTTP(d Downloader) Option  { return func(f *Fetcher) { f.http = d } }
func WithYTDLP(d Downloader) Option { return func(f *Fetcher) { f.ytdlp = d } }
func WithS3(d Downloader) Option    { return func(f *Fetcher) { f.s3 = d } }

func New(dir string, log logrus.FieldLogger, opts ...Option) (*Fetcher, error) {
	const op = "fetch.New"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Config(op, err, fmt.Sprintf("failed to create download directory %s", dir))
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	f := &Fetcher{
		dir:  dir,
		log:  log,
		http: NewHTTPDownloader(0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// CachePath is where a remote reference is stored.
func (f *Fetcher) CachePath(ref string) string {
	return filepath.Join(f.dir, validation.CacheFileName(ref))
}

func (f *Fetcher) lock(name string) *fileLock {
	l, _ := f.locks.LoadOrStore(name, &fileLock{})
	return l.(*fileLock)
}

// Fetch returns a local file for entry.Source. Local paths are checked but
// never copied. Remote references are downloaded unless a file already
// exists at their cache path.
func (f *Fetcher) Fetch(ctx context.Context, entry models.Entry) (models.MediaFile, error) {
	const op = "Fetcher.Fetch"

	kind, err := validation.ParseSource(entry.Source)
	if err != nil {
		return models.MediaFile{}, errors.FetchFailed(op, err, "unsupported source")
	}

	if kind == validation.SourceLocal {
		return f.fetchLocal(entry)
	}

	dest := f.CachePath(entry.Source)
	l := f.lock(dest)
	l.mu.Lock()
	defer l.mu.Unlock()

	log := f.log.WithFields(logrus.Fields{
		"entry":  entry.ID,
		"source": entry.Source,
		"path":   dest,
	})

	if size, ok := utils.FileSize(dest); ok {
		log.Debug("Using cached download")
		return models.MediaFile{EntryID: entry.ID, Path: dest, Cached: true, Size: size}, nil
	}

	d := f.downloaderFor(kind)
	if d == nil {
		return models.MediaFile{}, errors.FetchFailed(op, nil, fmt.Sprintf("no downloader configured for %s sources", kind))
	}

	log.Info("Downloading source")
	if err := d.Download(ctx, entry.Source, dest); err != nil {
		if errors.IsFetchFailed(err) {
			return models.MediaFile{}, err
		}
		return models.MediaFile{}, errors.FetchFailed(op, err, fmt.Sprintf("failed to download %s", entry.Source))
	}

	size, ok := utils.FileSize(dest)
	if !ok {
		return models.MediaFile{}, errors.FetchFailed(op, nil, fmt.Sprintf("download of %s produced no file", entry.Source))
	}

	log.WithField("bytes", size).Info("Download complete")
	return models.MediaFile{EntryID: entry.ID, Path: dest, Size: size}, nil
}

func (f *Fetcher) fetchLocal(entry models.Entry) (models.MediaFile, error) {
	const op = "Fetcher.fetchLocal"

	path := validation.LocalPath(entry.Source)
	info, err := os.Stat(path)
	if err != nil {
		return models.MediaFile{}, errors.SourceNotFound(op, err, fmt.Sprintf("local source %s not found", path))
	}
	if info.IsDir() {
		return models.MediaFile{}, errors.SourceNotFound(op, nil, fmt.Sprintf("local source %s is a directory", path))
	}

	file, err := os.Open(path)
	if err != nil {
		return models.MediaFile{}, errors.SourceNotFound(op, err, fmt.Sprintf("local source %s is not readable", path))
	}
	file.Close()

	return models.MediaFile{EntryID: entry.ID, Path: path, Size: info.Size()}, nil
}

func (f *Fetcher) downloaderFor(kind validation.SourceKind) Downloader {
	switch kind {
	case validation.SourceYouTube:
		return f.ytdlp
	case validation.SourceS3:
		return f.s3
	case validation.SourceHTTP:
		return f.http
	}
	return nil
}
