package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/utils"
)

const userAgent = "yt-analyze/1.0"

// HTTPDownloader fetches plain http(s) URLs.
type HTTPDownloader struct {
	Client *http.Client
}

var _ Downloader = (*HTTPDownloader)(nil)

// NewHTTPDownloader uses timeout as the whole-request limit; zero means no
// limit.
func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	return &HTTPDownloader{
		Client: &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, ref, dest string) error {
	const op = "HTTPDownloader.Download"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return errors.FetchFailed(op, err, "invalid request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.Client.Do(req)
	if err != nil {
		return errors.FetchFailed(op, err, fmt.Sprintf("request to %s failed", ref))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.FetchFailed(op, nil, fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, ref))
	}

	if err := utils.WriteFileAtomic(dest, resp.Body, 0o644); err != nil {
		return errors.FetchFailed(op, err, fmt.Sprintf("failed to store %s", ref))
	}
	return nil
}
