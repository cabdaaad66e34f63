package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/validation"
)

type rawOptions struct {
	Prompt             string `json:"prompt" yaml:"prompt"`
	Model              string `json:"model" yaml:"model"`
	Frames             int    `json:"frames" yaml:"frames"`
	FrameCount         int    `json:"frame_count" yaml:"frame_count"`
	TranscriptionModel string `json:"transcription_model" yaml:"transcription_model"`
	FallbackModel      string `json:"fallback_model" yaml:"fallback_model"`
}

type rawEntry struct {
	ID             string                `json:"id" yaml:"id"`
	Source         string                `json:"source" yaml:"source"`
	URL            string                `json:"url" yaml:"url"`
	Backends       []string              `json:"backends" yaml:"backends"`
	Options        rawOptions            `json:"options" yaml:"options"`
	BackendOptions map[string]rawOptions `json:"backend_options" yaml:"backend_options"`
	Tag            string                `json:"tag" yaml:"tag"`
	Remarks        string                `json:"remarks" yaml:"remarks"`
}

// Read parses the job manifest at path. Files ending in .yaml or .yml are
// read as YAML, everything else as JSON. Any schema violation is returned
// as a MalformedManifest error.
func Read(path string) ([]models.Entry, error) {
	const op = "manifest.Read"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.MalformedManifest(op, err, fmt.Sprintf("cannot read manifest %s", path))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON accepts a list of records or bare source strings, or an object
// holding such a list under "entries" or "videos".
func ParseJSON(data []byte) ([]models.Entry, error) {
	const op = "manifest.ParseJSON"

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.MalformedManifest(op, nil, "manifest is empty")
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.MalformedManifest(op, err, "invalid JSON manifest")
		}
	case '{':
		var root map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &root); err != nil {
			return nil, errors.MalformedManifest(op, err, "invalid JSON manifest")
		}
		list, ok := root["entries"]
		if !ok {
			list, ok = root["videos"]
		}
		if !ok {
			return nil, errors.MalformedManifest(op, nil, `manifest object must contain an "entries" list`)
		}
		if err := json.Unmarshal(list, &items); err != nil {
			return nil, errors.MalformedManifest(op, err, `"entries" must be a list`)
		}
	default:
		return nil, errors.MalformedManifest(op, nil, "manifest must be a JSON list or object")
	}

	raws := make([]rawEntry, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		var raw rawEntry
		switch {
		case len(item) > 0 && item[0] == '"':
			if err := json.Unmarshal(item, &raw.Source); err != nil {
				return nil, errors.MalformedManifest(op, err, fmt.Sprintf("entry %d: invalid source string", i))
			}
		case len(item) > 0 && item[0] == '{':
			if err := json.Unmarshal(item, &raw); err != nil {
				return nil, errors.MalformedManifest(op, err, fmt.Sprintf("entry %d: invalid record", i))
			}
		default:
			return nil, errors.MalformedManifest(op, nil, fmt.Sprintf("entry %d: expected an object or a string", i))
		}
		raws = append(raws, raw)
	}

	return normalize(raws)
}

// ParseYAML accepts the same shapes as ParseJSON.
func ParseYAML(data []byte) ([]models.Entry, error) {
	const op = "manifest.ParseYAML"

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.MalformedManifest(op, err, "invalid YAML manifest")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.MalformedManifest(op, nil, "manifest is empty")
	}

	root := doc.Content[0]
	list := root
	if root.Kind == yaml.MappingNode {
		list = nil
		for i := 0; i+1 < len(root.Content); i += 2 {
			key := root.Content[i].Value
			if key == "entries" || key == "videos" {
				list = root.Content[i+1]
				break
			}
		}
		if list == nil {
			return nil, errors.MalformedManifest(op, nil, `manifest mapping must contain an "entries" list`)
		}
	}
	if list.Kind != yaml.SequenceNode {
		return nil, errors.MalformedManifest(op, nil, "manifest entries must be a list")
	}

	raws := make([]rawEntry, 0, len(list.Content))
	for i, item := range list.Content {
		var raw rawEntry
		switch item.Kind {
		case yaml.ScalarNode:
			raw.Source = item.Value
		case yaml.MappingNode:
			if err := item.Decode(&raw); err != nil {
				return nil, errors.MalformedManifest(op, err, fmt.Sprintf("entry %d (line %d): invalid record", i, item.Line))
			}
		default:
			return nil, errors.MalformedManifest(op, nil, fmt.Sprintf("entry %d (line %d): expected a mapping or a string", i, item.Line))
		}
		raws = append(raws, raw)
	}

	return normalize(raws)
}

func normalize(raws []rawEntry) ([]models.Entry, error) {
	const op = "manifest.normalize"

	if len(raws) == 0 {
		return nil, errors.MalformedManifest(op, nil, "manifest contains no entries")
	}

	explicit := make(map[string]bool, len(raws))
	for i, raw := range raws {
		id := strings.TrimSpace(raw.ID)
		if id == "" {
			continue
		}
		if explicit[id] {
			return nil, errors.MalformedManifest(op, nil, fmt.Sprintf("entry %d: duplicate id %q", i, id))
		}
		explicit[id] = true
	}

	used := make(map[string]bool, len(raws))
	for id := range explicit {
		used[id] = true
	}

	entries := make([]models.Entry, 0, len(raws))
	for i, raw := range raws {
		source := strings.TrimSpace(raw.Source)
		if source == "" {
			source = strings.TrimSpace(raw.URL)
		}
		if source == "" {
			return nil, errors.MalformedManifest(op, nil, fmt.Sprintf("entry %d: missing source", i))
		}
		if _, err := validation.ParseSource(source); err != nil {
			return nil, errors.MalformedManifest(op, err, fmt.Sprintf("entry %d: invalid source", i))
		}

		backends, err := models.ParseBackends(raw.Backends)
		if err != nil {
			return nil, errors.MalformedManifest(op, err, fmt.Sprintf("entry %d: invalid backends", i))
		}

		opts, err := convertOptions(raw.Options)
		if err != nil {
			return nil, errors.MalformedManifest(op, err, fmt.Sprintf("entry %d: invalid options", i))
		}

		var perBackend map[models.Backend]models.Options
		for name, rawOpts := range raw.BackendOptions {
			b, err := models.ParseBackend(name)
			if err != nil {
				return nil, errors.MalformedManifest(op, err, fmt.Sprintf("entry %d: invalid backend_options", i))
			}
			o, err := convertOptions(rawOpts)
			if err != nil {
				return nil, errors.MalformedManifest(op, err, fmt.Sprintf("entry %d: invalid backend_options for %s", i, b))
			}
			if perBackend == nil {
				perBackend = make(map[models.Backend]models.Options)
			}
			perBackend[b] = o
		}

		id := strings.TrimSpace(raw.ID)
		if id == "" {
			id = uniqueID(validation.DeriveID(source), used)
			used[id] = true
		}

		entries = append(entries, models.Entry{
			ID:             id,
			Source:         source,
			Backends:       backends,
			Options:        opts,
			BackendOptions: perBackend,
			Tag:            raw.Tag,
			Remarks:        raw.Remarks,
		})
	}

	return entries, nil
}

func convertOptions(raw rawOptions) (models.Options, error) {
	frames := raw.FrameCount
	if frames == 0 {
		frames = raw.Frames
	}
	if frames < 0 {
		return models.Options{}, fmt.Errorf("frame count must be positive, got %d", frames)
	}
	return models.Options{
		Prompt:             raw.Prompt,
		Model:              raw.Model,
		FrameCount:         frames,
		TranscriptionModel: raw.TranscriptionModel,
		FallbackModel:      raw.FallbackModel,
	}, nil
}

// uniqueID suffixes derived ids that collide with ids already in use.
func uniqueID(base string, used map[string]bool) string {
	if !used[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !used[candidate] {
			return candidate
		}
	}
}
