// Package extraction defines the interchange payloads moved across plugin
// boundaries: the extraction result, its metadata and the extraction config.
// Every type round-trips through JSON with snake_case field names.
package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Result is the outcome of extracting one document.
type Result struct {
	Content           string        `json:"content"`
	MimeType          string        `json:"mime_type"`
	Metadata          Metadata      `json:"metadata"`
	Tables            []Table       `json:"tables,omitempty"`
	DetectedLanguages []string      `json:"detected_languages,omitempty"`
	Chunks            []Chunk       `json:"chunks,omitempty"`
	Images            []Image       `json:"images,omitempty"`
	Pages             []PageContent `json:"pages,omitempty"`
}

// Table is a detected table. Cells are row-major.
type Table struct {
	Cells      [][]string `json:"cells"`
	Markdown   string     `json:"markdown"`
	PageNumber int        `json:"page_number"`
}

// Chunk is a contiguous slice of the content produced by a chunker.
type Chunk struct {
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Image is an image extracted from the document.
type Image struct {
	Data       []byte  `json:"data"`
	Format     string  `json:"format"`
	ImageIndex int     `json:"image_index"`
	PageNumber *int    `json:"page_number,omitempty"`
	Width      *int    `json:"width,omitempty"`
	Height     *int    `json:"height,omitempty"`
	OCRResult  *Result `json:"ocr_result,omitempty"`
}

// PageContent holds the text of a single page.
type PageContent struct {
	PageNumber int    `json:"page_number"`
	Content    string `json:"content"`
}

// Decode parses a serialized result. Invalid UTF-8 is rejected before the
// JSON decoder gets a chance to silently replace it.
func Decode(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, errors.New("empty result payload")
	}
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode extraction result: %w", err)
	}
	return &r, nil
}

// ErrInvalidUTF8 reports a payload that is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")

// Encode serializes the result.
func (r *Result) Encode() ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil extraction result")
	}
	return json.Marshal(r)
}

// Clone returns a deep copy by way of the JSON form, so processors working
// on the copy never alias the original's slices or maps.
func (r *Result) Clone() (*Result, error) {
	raw, err := r.Encode()
	if err != nil {
		return nil, err
	}
	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Merge applies a partial result object onto r. Top-level keys that are
// absent or null leave r untouched. Metadata is merged key by key, so a patch
// carrying only new keys keeps every existing property. r is unchanged when
// the patch cannot be decoded.
func (r *Result) Merge(patch []byte) error {
	if r == nil {
		return errors.New("nil extraction result")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("decode result patch: %w", err)
	}
	merged, err := r.Clone()
	if err != nil {
		return err
	}
	if raw, ok := fields["metadata"]; ok {
		delete(fields, "metadata")
		if !isJSONNull(raw) {
			meta, err := mergeMetadata(merged.Metadata, raw)
			if err != nil {
				return err
			}
			merged.Metadata = meta
		}
	}
	for k, v := range fields {
		if isJSONNull(v) {
			delete(fields, k)
		}
	}
	if len(fields) > 0 {
		rest, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(rest, (*resultFields)(merged)); err != nil {
			return fmt.Errorf("decode result patch: %w", err)
		}
	}
	*r = *merged
	return nil
}

// resultFields decodes onto an existing result without the metadata field
// being reset.
type resultFields Result

func mergeMetadata(base Metadata, patch json.RawMessage) (Metadata, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(patch, &keys); err != nil {
		return base, fmt.Errorf("decode metadata patch: %w", err)
	}
	current, err := json.Marshal(base)
	if err != nil {
		return base, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(current, &all); err != nil {
		return base, err
	}
	if all == nil {
		all = make(map[string]json.RawMessage, len(keys))
	}
	for k, v := range keys {
		all[k] = v
	}
	combined, err := json.Marshal(all)
	if err != nil {
		return base, err
	}
	var out Metadata
	if err := json.Unmarshal(combined, &out); err != nil {
		return base, fmt.Errorf("decode metadata patch: %w", err)
	}
	return out, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// ReplaceWith overwrites r in place with other's contents. Post-processors
// that receive a whole new result from a foreign callee use it so callers
// holding r observe the mutation.
func (r *Result) ReplaceWith(other *Result) {
	if r == nil || other == nil {
		return
	}
	*r = *other
}

// SetAdditional stores an arbitrary value under key in the metadata's
// free-form section.
func (r *Result) SetAdditional(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode metadata %q: %w", key, err)
	}
	if r.Metadata.Additional == nil {
		r.Metadata.Additional = make(map[string]json.RawMessage)
	}
	r.Metadata.Additional[key] = raw
	return nil
}

// Additional decodes the free-form metadata value stored under key into out.
// It reports false when the key is absent.
func (r *Result) Additional(key string, out any) (bool, error) {
	raw, ok := r.Metadata.Additional[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode metadata %q: %w", key, err)
	}
	return true, nil
}
