package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

type SourceKind string

const (
	SourceLocal   SourceKind = "local"
	SourceHTTP    SourceKind = "http"
	SourceYouTube SourceKind = "youtube"
	SourceS3      SourceKind = "s3"
)

const (
	defaultExt      = ".mp4"
	maxStemLength   = 64
	cacheHashLength = 12
)

var (
	youTubeHosts = map[string]bool{
		"youtube.com":       true,
		"www.youtube.com":   true,
		"m.youtube.com":     true,
		"music.youtube.com": true,
		"youtu.be":          true,
	}
	videoExts = map[string]bool{
		".mp4": true, ".mov": true, ".mkv": true, ".webm": true,
		".avi": true, ".m4v": true, ".flv": true, ".mp3": true,
		".m4a": true, ".wav": true,
	}
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	schemeRE    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)
)

// ParseSource classifies a source reference. References without a scheme,
// and file:// URLs, are local paths.
func ParseSource(ref string) (SourceKind, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("source is required")
	}
	if !schemeRE.MatchString(ref) {
		return SourceLocal, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid source URL %q: %w", ref, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return SourceLocal, nil
	case "s3":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return "", fmt.Errorf("s3 source %q must be s3://bucket/key", ref)
		}
		return SourceS3, nil
	case "http", "https":
		if u.Host == "" {
			return "", fmt.Errorf("source URL %q must have a host", ref)
		}
		if IsYouTubeURL(ref) {
			return SourceYouTube, nil
		}
		return SourceHTTP, nil
	default:
		return "", fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func IsRemote(ref string) bool {
	kind, err := ParseSource(ref)
	return err == nil && kind != SourceLocal
}

func IsYouTubeURL(ref string) bool {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return false
	}
	return youTubeHosts[strings.ToLower(u.Hostname())]
}

// LocalPath strips a file:// prefix.
func LocalPath(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(strings.ToLower(ref), "file://") {
		if u, err := url.Parse(ref); err == nil {
			return u.Path
		}
		return ref[len("file://"):]
	}
	return ref
}

// YouTubeID extracts the video id from watch, shorts, embed and youtu.be URLs.
func YouTubeID(ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || !youTubeHosts[strings.ToLower(u.Hostname())] {
		return ""
	}
	if strings.EqualFold(u.Hostname(), "youtu.be") {
		return firstSegment(u.Path)
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 2 {
		switch segments[0] {
		case "shorts", "embed", "live", "v":
			return segments[1]
		}
	}
	return ""
}

// DeriveID builds an entry id from its source: the YouTube video id when
// there is one, otherwise the file name without extension.
func DeriveID(ref string) string {
	if id := YouTubeID(ref); id != "" {
		return sanitize(id)
	}
	return sanitize(stem(ref))
}

// CacheFileName maps a remote reference to a deterministic file name inside
// the download directory. Equal references always map to the same name.
func CacheFileName(ref string) string {
	ref = strings.TrimSpace(ref)
	sum := sha256.Sum256([]byte(ref))
	hash := hex.EncodeToString(sum[:])[:cacheHashLength]

	name := YouTubeID(ref)
	ext := defaultExt
	if name == "" {
		last := lastSegment(ref)
		if e := strings.ToLower(path.Ext(last)); videoExts[e] {
			ext = e
		}
		name = strings.TrimSuffix(last, path.Ext(last))
	}

	return fmt.Sprintf("%s-%s%s", sanitize(name), hash, ext)
}

func stem(ref string) string {
	var last string
	if IsRemote(ref) {
		last = lastSegment(ref)
	} else {
		last = filepath.Base(LocalPath(ref))
	}
	if ext := filepath.Ext(last); videoExts[strings.ToLower(ext)] {
		return strings.TrimSuffix(last, ext)
	}
	return last
}

func lastSegment(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return path.Base(ref)
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		return u.Hostname()
	}
	return path.Base(p)
}

func firstSegment(p string) string {
	p = strings.Trim(p, "/")
	if i := strings.Index(p, "/"); i >= 0 {
		return p[:i]
	}
	return p
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if len(s) > maxStemLength {
		s = s[:maxStemLength]
	}
	if s == "" {
		return "video"
	}
	return s
}
