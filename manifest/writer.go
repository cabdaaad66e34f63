package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/utils"
)

// Encode renders a result manifest as indented UTF-8 JSON without HTML
// escaping.
func Encode(m *models.ResultManifest) ([]byte, error) {
	const op = "manifest.Encode"

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, errors.Write(op, err, "failed to encode result manifest")
	}
	return buf.Bytes(), nil
}

// Write replaces the file at path with the encoded manifest. The write goes
// through a temp file so an interrupted run never leaves a truncated file.
func Write(path string, m *models.ResultManifest) error {
	const op = "manifest.Write"

	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(path, bytes.NewReader(data), 0o644); err != nil {
		return errors.Write(op, err, fmt.Sprintf("failed to write results to %s", path))
	}
	return nil
}

// ReadResults parses a manifest previously produced by Write.
func ReadResults(path string) (*models.ResultManifest, error) {
	const op = "manifest.ReadResults"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.MalformedManifest(op, err, fmt.Sprintf("cannot read results %s", path))
	}

	var m models.ResultManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.MalformedManifest(op, err, "invalid result manifest")
	}
	return &m, nil
}
