package models

// Options tune a single backend invocation. Zero values mean "use the
// backend's configured default".
type Options struct {
	Prompt             string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Model              string `json:"model,omitempty" yaml:"model,omitempty"`
	FrameCount         int    `json:"frame_count,omitempty" yaml:"frame_count,omitempty"`
	TranscriptionModel string `json:"transcription_model,omitempty" yaml:"transcription_model,omitempty"`
	FallbackModel      string `json:"fallback_model,omitempty" yaml:"fallback_model,omitempty"`
}

// Merge fills unset fields of o from defaults.
func (o Options) Merge(defaults Options) Options {
	if o.Prompt == "" {
		o.Prompt = defaults.Prompt
	}
	if o.Model == "" {
		o.Model = defaults.Model
	}
	if o.FrameCount == 0 {
		o.FrameCount = defaults.FrameCount
	}
	if o.TranscriptionModel == "" {
		o.TranscriptionModel = defaults.TranscriptionModel
	}
	if o.FallbackModel == "" {
		o.FallbackModel = defaults.FallbackModel
	}
	return o
}

// Entry is one video job read from the input manifest.
type Entry struct {
	ID             string              `json:"id"`
	Source         string              `json:"source"`
	Backends       []Backend           `json:"backends,omitempty"`
	Options        Options             `json:"options,omitempty"`
	BackendOptions map[Backend]Options `json:"backend_options,omitempty"`
	Tag            string              `json:"tag,omitempty"`
	Remarks        string              `json:"remarks,omitempty"`
}

// OptionsFor returns the options for backend b: per-backend overrides
// first, then the entry-wide options.
func (e Entry) OptionsFor(b Backend) Options {
	if override, ok := e.BackendOptions[b]; ok {
		return override.Merge(e.Options)
	}
	return e.Options
}

// MediaFile is a fetched video resolved to a local path.
type MediaFile struct {
	EntryID string `json:"entry_id"`
	Path    string `json:"path"`
	Cached  bool   `json:"cached"`
	Size    int64  `json:"size"`
}
