package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nijaru/yt-analyze/errors"
)

// Result is the outcome of one (entry, backend) pair. Exactly one Result
// exists per attempted pair and it is never modified after creation.
type Result struct {
	EntryID    string    `json:"-"`
	Backend    Backend   `json:"backend"`
	Success    bool      `json:"success"`
	Payload    string    `json:"payload,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Model      string    `json:"model,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Resumed    bool      `json:"resumed,omitempty"`
}

func NewSuccess(entryID string, b Backend, model, payload string, startedAt time.Time, d time.Duration) Result {
	return Result{
		EntryID:    entryID,
		Backend:    b,
		Success:    true,
		Payload:    payload,
		Model:      model,
		StartedAt:  startedAt.UTC(),
		DurationMS: d.Milliseconds(),
	}
}

func NewFailure(entryID string, b Backend, err error, startedAt time.Time, d time.Duration) Result {
	r := Result{
		EntryID:    entryID,
		Backend:    b,
		StartedAt:  startedAt.UTC(),
		DurationMS: d.Milliseconds(),
	}
	if err != nil {
		r.Error = err.Error()
		r.ErrorKind = string(errors.KindOf(err))
	}
	return r
}

func (r Result) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// EntryResults groups the results of one entry in backend order.
type EntryResults struct {
	ID      string   `json:"-"`
	Source  string   `json:"source"`
	Tag     string   `json:"tag,omitempty"`
	Remarks string   `json:"remarks,omitempty"`
	Results []Result `json:"results"`
}

// ResultManifest is the output of a run. Entries keep input order.
type ResultManifest struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Entries    []EntryResults
}

func (m *ResultManifest) Append(er EntryResults) {
	m.Entries = append(m.Entries, er)
}

func (m *ResultManifest) Entry(id string) (*EntryResults, bool) {
	for i := range m.Entries {
		if m.Entries[i].ID == id {
			return &m.Entries[i], true
		}
	}
	return nil, false
}

// Totals counts successful and failed results across all entries.
func (m *ResultManifest) Totals() (succeeded, failed int) {
	for _, er := range m.Entries {
		for _, r := range er.Results {
			if r.Success {
				succeeded++
			} else {
				failed++
			}
		}
	}
	return succeeded, failed
}

type manifestJSON struct {
	RunID      string         `json:"run_id,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Entries    orderedEntries `json:"entries"`
}

func (m ResultManifest) MarshalJSON() ([]byte, error) {
	return marshalNoEscape(manifestJSON{
		RunID:      m.RunID,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Entries:    orderedEntries(m.Entries),
	})
}

func (m *ResultManifest) UnmarshalJSON(data []byte) error {
	var raw manifestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.RunID = raw.RunID
	m.StartedAt = raw.StartedAt
	m.FinishedAt = raw.FinishedAt
	m.Entries = []EntryResults(raw.Entries)
	return nil
}

// orderedEntries encodes as a JSON object keyed by entry id while keeping
// the slice order, which a Go map cannot.
type orderedEntries []EntryResults

func (o orderedEntries) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, er := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(er.ID)
		if err != nil {
			return nil, err
		}
		val, err := marshalNoEscape(er)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *orderedEntries) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("entries: expected object, got %v", tok)
	}

	var out orderedEntries
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("entries: expected string key, got %v", tok)
		}
		var er EntryResults
		if err := dec.Decode(&er); err != nil {
			return fmt.Errorf("entries[%q]: %w", id, err)
		}
		er.ID = id
		for i := range er.Results {
			er.Results[i].EntryID = id
		}
		out = append(out, er)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*o = out
	return nil
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
